package consultation

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"legalbot/internal/cache"
	"legalbot/internal/domain"
	"legalbot/internal/pkg/logger"
	"legalbot/internal/pkg/metrics"
)

// Uzbek mobile numbers: +998 and nine digits.
var phonePattern = regexp.MustCompile(`^\+998\d{9}$`)

type Service struct {
	store   consultationStore
	refunds refunder
	cache   slotCache
	notify  notifier
	now     func() time.Time
}

func NewService(store consultationStore, refunds refunder, c slotCache, n notifier) *Service {
	return &Service{
		store:   store,
		refunds: refunds,
		cache:   c,
		notify:  n,
		now:     time.Now,
	}
}

// Create registers a consultation request in PENDING and alerts the admin
// channel. The price is fixed at creation; payment happens separately.
func (s *Service) Create(ctx context.Context, userID int64, req CreateConsultationRequest) (*ConsultationResponse, error) {
	ctype, err := parseType(req.Type)
	if err != nil {
		return nil, err
	}
	if !phonePattern.MatchString(req.PhoneNumber) {
		return nil, fmt.Errorf("%w: phone number must match +998XXXXXXXXX", domain.ErrValidation)
	}
	if len(req.ProblemDescription) < 10 {
		return nil, fmt.Errorf("%w: problem description is too short", domain.ErrValidation)
	}
	money, err := domain.ValidateAmount(req.Amount)
	if err != nil {
		return nil, err
	}

	c := &domain.Consultation{
		UserID:             userID,
		Type:               ctype,
		Status:             domain.ConsultationPending,
		Amount:             money.Amount,
		Currency:           money.Currency,
		PhoneNumber:        req.PhoneNumber,
		ProblemDescription: req.ProblemDescription,
		DurationMinutes:    int(domain.SlotDuration.Minutes()),
	}
	if err := s.store.Create(ctx, c); err != nil {
		return nil, err
	}

	s.notifyAdmins(ctx, "consultation_requested", map[string]string{
		"consultation_id": fmt.Sprint(c.ID),
		"type":            string(ctype),
		"phone":           c.PhoneNumber,
		"amount":          money.String(),
	})
	logger.Info().Int64("consultation_id", c.ID).Int64("user_id", userID).
		Str("type", string(ctype)).Msg("consultation created")
	return toConsultationResponse(c), nil
}

func (s *Service) Get(ctx context.Context, id int64) (*ConsultationResponse, error) {
	c, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return toConsultationResponse(c), nil
}

// AvailableSlots lists the open one-hour slot starts for a day, cache-first.
// The grid is advisory; ClaimSlot re-checks under lock.
func (s *Service) AvailableSlots(ctx context.Context, day time.Time, consultationType string) (*SlotsResponse, error) {
	day = day.UTC().Truncate(24 * time.Hour)
	key := cache.SlotsKey(day, consultationType)

	var cached SlotsResponse
	hit, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("slots cache read failed")
	}
	if hit {
		return &cached, nil
	}

	if !domain.WorkingDay(day.Weekday()) {
		resp := &SlotsResponse{Date: day.Format("2006-01-02"), Slots: []time.Time{}}
		return resp, nil
	}

	booked, err := s.store.BookedTimes(ctx, day, day.Add(24*time.Hour))
	if err != nil {
		return nil, err
	}
	taken := make(map[time.Time]bool, len(booked))
	for _, t := range booked {
		taken[t.UTC()] = true
	}

	now := s.now().UTC()
	slots := make([]time.Time, 0, domain.WorkdayEndHour-domain.WorkdayStartHour)
	for h := domain.WorkdayStartHour; h < domain.WorkdayEndHour; h++ {
		slot := day.Add(time.Duration(h) * time.Hour)
		if slot.Before(now) || taken[slot] {
			continue
		}
		slots = append(slots, slot)
	}

	resp := &SlotsResponse{Date: day.Format("2006-01-02"), Slots: slots}
	if err := s.cache.Set(ctx, key, resp, cache.SlotsTTL); err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("slots cache write failed")
	}
	return resp, nil
}

// Schedule claims a slot for a paid consultation. Re-scheduling routes
// through the same path and counts against the reschedule cap.
func (s *Service) Schedule(ctx context.Context, id, userID int64, slot time.Time) (*ConsultationResponse, error) {
	slot = slot.UTC().Truncate(time.Hour)

	c, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, fmt.Errorf("%w: consultation %d does not belong to user %d", domain.ErrValidation, id, userID)
	}
	if !slot.After(s.now().UTC()) {
		return nil, fmt.Errorf("%w: slot is in the past", ErrSlotUnavailable)
	}
	if !domain.ValidSlotTime(slot) {
		return nil, fmt.Errorf("%w: outside working hours", ErrSlotUnavailable)
	}

	c, err = s.store.ClaimSlot(ctx, id, slot, fmt.Sprintf("user:%d", userID))
	if err != nil {
		return nil, err
	}
	s.invalidateSlots(ctx)
	metrics.ConsultationScheduled()

	s.send(ctx, c.UserID, "consultation_scheduled", map[string]string{
		"consultation_id": fmt.Sprint(c.ID),
		"scheduled_time":  slot.Format(time.RFC3339),
	})
	logger.Info().Int64("consultation_id", c.ID).Time("slot", slot).
		Int("reschedules", c.RescheduleCount).Msg("consultation scheduled")
	return toConsultationResponse(c), nil
}

// Cancel retires the consultation and, when a completed payment exists,
// refunds it through the settlement orchestrator. After the 24h deadline the
// request is rejected; staff may still cancel via the internal surface.
func (s *Service) Cancel(ctx context.Context, id, userID int64, reason string) (*ConsultationResponse, error) {
	c, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, fmt.Errorf("%w: consultation %d does not belong to user %d", domain.ErrValidation, id, userID)
	}
	if !c.CanCancel(s.now().UTC()) {
		if c.Status.Terminal() {
			return nil, fmt.Errorf("%w: consultation %d is %s", domain.ErrInvalidStatus, id, c.Status)
		}
		return nil, ErrCancellationDeadline
	}

	c, err = s.refunds.CancelAndRefund(ctx, id, reason, fmt.Sprintf("user:%d", userID))
	if err != nil {
		return nil, err
	}
	s.invalidateSlots(ctx)

	s.send(ctx, c.UserID, "consultation_cancelled", map[string]string{
		"consultation_id": fmt.Sprint(c.ID),
		"reason":          reason,
	})
	logger.Info().Int64("consultation_id", c.ID).Str("reason", reason).Msg("consultation cancelled")
	return toConsultationResponse(c), nil
}

// Complete closes a held consultation; rating and feedback are optional and
// may arrive later through SubmitFeedback.
func (s *Service) Complete(ctx context.Context, id int64, req CompleteRequest) (*ConsultationResponse, error) {
	if req.Rating != nil && (*req.Rating < 1 || *req.Rating > 5) {
		return nil, fmt.Errorf("%w: rating must be 1..5", domain.ErrValidation)
	}

	c, err := s.store.Complete(ctx, id, req.Notes, req.Rating, req.Feedback, "staff")
	if err != nil {
		return nil, err
	}

	if c.Rating == nil {
		s.send(ctx, c.UserID, "feedback_requested", map[string]string{
			"consultation_id": fmt.Sprint(c.ID),
		})
	}
	logger.Info().Int64("consultation_id", c.ID).Msg("consultation completed")
	return toConsultationResponse(c), nil
}

// SubmitFeedback stores a deferred rating on a completed consultation.
func (s *Service) SubmitFeedback(ctx context.Context, id, userID int64, req FeedbackRequest) error {
	if req.Rating < 1 || req.Rating > 5 {
		return fmt.Errorf("%w: rating must be 1..5", domain.ErrValidation)
	}
	c, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if c.UserID != userID {
		return fmt.Errorf("%w: consultation %d does not belong to user %d", domain.ErrValidation, id, userID)
	}
	return s.store.SetFeedback(ctx, id, req.Rating, req.Feedback)
}

func parseType(s string) (domain.ConsultationType, error) {
	switch domain.ConsultationType(s) {
	case domain.ConsultationOnline:
		return domain.ConsultationOnline, nil
	case domain.ConsultationOffice:
		return domain.ConsultationOffice, nil
	}
	return "", fmt.Errorf("%w: unknown consultation type %q", domain.ErrValidation, s)
}

func (s *Service) invalidateSlots(ctx context.Context) {
	if err := s.cache.DeletePattern(ctx, "slots:*"); err != nil {
		logger.Warn().Err(err).Msg("slots cache invalidation failed")
	}
}

func (s *Service) send(ctx context.Context, userID int64, key string, params map[string]string) {
	if s.notify == nil {
		return
	}
	if err := s.notify.Notify(ctx, userID, key, params); err != nil {
		logger.Warn().Err(err).Int64("user_id", userID).Str("message", key).Msg("notification failed")
	}
}

func (s *Service) notifyAdmins(ctx context.Context, key string, params map[string]string) {
	if s.notify == nil {
		return
	}
	if err := s.notify.NotifyAdmins(ctx, key, params); err != nil {
		logger.Warn().Err(err).Str("message", key).Msg("admin notification failed")
	}
}
