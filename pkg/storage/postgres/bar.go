package postgres

import (
	"context"
	"time"

	"sniperflow/internal/market"

	"gorm.io/gorm/clause"
)

// InsertBar stores bar unless a row with the same (timestamp, symbol) exists.
// inserted is false for such a duplicate; that is not an error.
func (p *PostgresClient) InsertBar(ctx context.Context, bar market.Bar) (bool, error) {
	tx := p.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "timestamp"},
			{Name: "symbol"},
		},
		DoNothing: true,
	}).Create(ToBarRecord(bar))

	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (p *PostgresClient) GetBar(ctx context.Context, symbol string, bucketStart int64) (*market.Bar, error) {
	var rec BarRecord
	err := p.DB.WithContext(ctx).
		Where("symbol = ? AND timestamp = ?", symbol, time.Unix(bucketStart, 0).UTC()).
		First(&rec).Error

	if err != nil {
		return nil, err
	}
	bar := rec.Bar()
	return &bar, nil
}

// ListBars returns the bars of symbol in [from, to), oldest first.
func (p *PostgresClient) ListBars(ctx context.Context, symbol string, from, to time.Time) ([]market.Bar, error) {
	var recs []BarRecord
	err := p.DB.WithContext(ctx).
		Where("symbol = ? AND timestamp >= ? AND timestamp < ?", symbol, from.UTC(), to.UTC()).
		Order("timestamp").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}

	bars := make([]market.Bar, len(recs))
	for i := range recs {
		bars[i] = recs[i].Bar()
	}
	return bars, nil
}

// DeleteBarsBefore removes bars whose bucket starts before the cutoff.
func (p *PostgresClient) DeleteBarsBefore(ctx context.Context, before time.Time) (int64, error) {
	tx := p.DB.WithContext(ctx).
		Where("timestamp < ?", before.UTC()).
		Delete(&BarRecord{})
	return tx.RowsAffected, tx.Error
}
