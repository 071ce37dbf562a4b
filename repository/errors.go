package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrDuplicateSlot       = errors.New("campaign slot already materialized")
	ErrDuplicateTrackingID = errors.New("click tracking id already in use")
)

const (
	pgUniqueViolation = "23505"

	constraintCampaignEmailSlot       = "uk_campaign_emails_slot"
	constraintCampaignEmailTrackingID = "uk_campaign_emails_click_tracking_id"
)

// translateUniqueViolation maps known unique constraint violations to sentinel errors
func translateUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case constraintCampaignEmailSlot:
		return ErrDuplicateSlot
	case constraintCampaignEmailTrackingID:
		return ErrDuplicateTrackingID
	default:
		return err
	}
}
