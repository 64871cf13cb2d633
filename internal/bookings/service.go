package bookings

import (
	"context"
	"fmt"
	"ms-roster/internal/logger"
	"ms-roster/internal/models"
	"ms-roster/internal/validation"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
)

type DBLayer interface {
	GetOrder(ctx context.Context, externalID string) (*models.OrderRecord, error)
	UpdateOrderManual(ctx context.Context, externalID string, patch models.OrderPatch, operator string) (*models.OrderRecord, error)
	CreateManualBooking(ctx context.Context, eventID string, in models.ManualBookingInput, createdBy string) (*models.ManualBooking, error)
	DeleteManualBooking(ctx context.Context, id string) error
	ListManualBookings(ctx context.Context, eventID string) ([]models.ManualBooking, error)
}

// FieldRegistrar records the dynamic keys a booking carries.
type FieldRegistrar interface {
	RegisterFields(ctx context.Context, eventID string, fields map[string]string, at time.Time) error
}

type BookingService struct {
	DB       DBLayer
	Fields   FieldRegistrar
	Validate *validatorv10.Validate
	Logger   *logger.Logger
}

func NewBookingService(db DBLayer, registrar FieldRegistrar, v *validatorv10.Validate, log *logger.Logger) *BookingService {
	if v == nil {
		v = validation.New()
	}
	return &BookingService{DB: db, Fields: registrar, Validate: v, Logger: log}
}

// ---------------- ORDERS ----------------

func (s *BookingService) GetOrder(ctx context.Context, id string) (*models.OrderRecord, error) {
	return s.DB.GetOrder(ctx, id)
}

// EditOrder is the only path that sets manuallyModified. Later syncs keep the edited fields.
func (s *BookingService) EditOrder(ctx context.Context, id string, patch models.OrderPatch, operator string) (*models.OrderRecord, error) {
	o, err := s.DB.UpdateOrderManual(ctx, id, patch, operator)
	if err != nil {
		return nil, err
	}
	s.Logger.Info("BOOKINGS", fmt.Sprintf("Order %s edited by %s", id, operatorName(operator)))
	return o, nil
}

// ---------------- MANUAL BOOKINGS ----------------

func (s *BookingService) ListManualBookings(ctx context.Context, eventID string) ([]models.ManualBooking, error) {
	return s.DB.ListManualBookings(ctx, eventID)
}

func (s *BookingService) CreateManualBooking(ctx context.Context, eventID string, in models.ManualBookingInput, operator string) (*models.ManualBooking, error) {
	if err := validation.Struct(s.Validate, in); err != nil {
		return nil, err
	}
	mb, err := s.DB.CreateManualBooking(ctx, eventID, in, operator)
	if err != nil {
		return nil, err
	}
	if err := s.Fields.RegisterFields(ctx, eventID, mb.DynamicFields, mb.CreatedAt); err != nil {
		// A booking whose keys are not registered is withdrawn.
		if derr := s.DB.DeleteManualBooking(ctx, mb.ID); derr != nil {
			s.Logger.Error("BOOKINGS", fmt.Sprintf("Manual booking %s left without registered fields: %v", mb.ID, derr))
		}
		return nil, fmt.Errorf("register fields of manual booking: %w", err)
	}
	s.Logger.Info("BOOKINGS", fmt.Sprintf("Manual booking %s created on event %s (%d participants) by %s",
		mb.ID, eventID, mb.ParticipantCount, operatorName(operator)))
	return mb, nil
}

func (s *BookingService) DeleteManualBooking(ctx context.Context, id string) error {
	if err := s.DB.DeleteManualBooking(ctx, id); err != nil {
		return err
	}
	s.Logger.Info("BOOKINGS", fmt.Sprintf("Manual booking %s deleted", id))
	return nil
}

func operatorName(operator string) string {
	if operator == "" {
		return "anonymous"
	}
	return operator
}
