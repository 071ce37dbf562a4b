package businessflow

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/amirphl/phishschool/app/services"
	"github.com/amirphl/phishschool/models"
	"github.com/amirphl/phishschool/repository"
	"github.com/amirphl/phishschool/utils"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// memStore is an in-memory stand-in for the relational store shared by the fake repositories
type memStore struct {
	mu        sync.Mutex
	users     map[uint]*models.User
	prefs     map[uint]*models.UserEmailPreferences
	campaigns map[uint]*models.Campaign
	emails    map[uint]*models.CampaignEmail
	tracking  []*models.EmailTracking
	scores    map[uint]*models.Score
	nextID    uint

	// failInsert makes the next n email inserts fail with the given error
	failInsert    int
	failInsertErr error
}

func newMemStore() *memStore {
	return &memStore{
		users:     map[uint]*models.User{},
		prefs:     map[uint]*models.UserEmailPreferences{},
		campaigns: map[uint]*models.Campaign{},
		emails:    map[uint]*models.CampaignEmail{},
		scores:    map[uint]*models.Score{},
	}
}

func (s *memStore) id() uint {
	s.nextID++
	return s.nextID
}

func (s *memStore) addUser(email string) *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &models.User{ID: s.id(), UUID: uuid.New(), Email: email, FirstName: "Test", CreatedAt: utils.UTCNow()}
	s.users[u.ID] = u
	cp := *u
	return &cp
}

func (s *memStore) email(id uint) *models.CampaignEmail {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneEmail(s.emails[id])
}

func (s *memStore) campaign(id uint) *models.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneCampaign(s.campaigns[id])
}

func (s *memStore) emailsOf(campaignID uint) []*models.CampaignEmail {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emailsOfLocked(campaignID)
}

func (s *memStore) emailsOfLocked(campaignID uint) []*models.CampaignEmail {
	out := []*models.CampaignEmail{}
	for _, e := range s.emails {
		if e.CampaignID == campaignID {
			out = append(out, cloneEmail(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SlotIndex < out[j].SlotIndex })
	return out
}

func (s *memStore) trackingRows() []*models.EmailTracking {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.EmailTracking, 0, len(s.tracking))
	for _, t := range s.tracking {
		cp := *t
		out = append(out, &cp)
	}
	return out
}

// setEmail mutates a stored row in place, for arranging test states
func (s *memStore) setEmail(id uint, fn func(e *models.CampaignEmail)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.emails[id])
}

func (s *memStore) setCampaign(id uint, fn func(c *models.Campaign)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.campaigns[id])
}

func cloneCampaign(c *models.Campaign) *models.Campaign {
	if c == nil {
		return nil
	}
	cp := *c
	cp.PreferredThemes = append(pq.StringArray(nil), c.PreferredThemes...)
	return &cp
}

func cloneEmail(e *models.CampaignEmail) *models.CampaignEmail {
	if e == nil {
		return nil
	}
	cp := *e
	cp.PhishingIndicators = append(pq.StringArray{}, e.PhishingIndicators...)
	return &cp
}

func page[T any](rows []*T, limit, offset int) []*T {
	if offset >= len(rows) {
		return []*T{}
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

// ---- users ----

type fakeUserRepo struct{ s *memStore }

func (r *fakeUserRepo) ByID(ctx context.Context, id uint) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r *fakeUserRepo) ByEmail(ctx context.Context, email string) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeUserRepo) Save(ctx context.Context, user *models.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if user.ID == 0 {
		user.ID = r.s.id()
	}
	cp := *user
	r.s.users[user.ID] = &cp
	return nil
}

func (r *fakeUserRepo) IncrementNumFished(ctx context.Context, id uint) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u, ok := r.s.users[id]; ok {
		u.NumFished++
	}
	return nil
}

func (r *fakeUserRepo) EnsureProfile(ctx context.Context, id uint, email string) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		u = &models.User{ID: id, UUID: uuid.New(), CreatedAt: utils.UTCNow()}
		r.s.users[id] = u
	}
	if email != "" {
		u.Email = email
	}
	cp := *u
	return &cp, nil
}

// ---- preferences ----

type fakePrefsRepo struct{ s *memStore }

func (r *fakePrefsRepo) ByUserID(ctx context.Context, userID uint) (*models.UserEmailPreferences, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.prefs[userID]
	if !ok {
		return nil, nil
	}
	cp := *p
	cp.PreferredThemes = append(pq.StringArray(nil), p.PreferredThemes...)
	return &cp, nil
}

func (r *fakePrefsRepo) Upsert(ctx context.Context, prefs *models.UserEmailPreferences) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := utils.UTCNow()
	prefs.UpdatedAt = &now
	if prefs.ID == 0 {
		if existing, ok := r.s.prefs[prefs.UserID]; ok {
			prefs.ID = existing.ID
		} else {
			prefs.ID = r.s.id()
		}
	}
	cp := *prefs
	cp.PreferredThemes = append(pq.StringArray(nil), prefs.PreferredThemes...)
	r.s.prefs[prefs.UserID] = &cp
	return nil
}

// ---- campaigns ----

type fakeCampaignRepo struct{ s *memStore }

func (r *fakeCampaignRepo) ByID(ctx context.Context, id uint) (*models.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return cloneCampaign(r.s.campaigns[id]), nil
}

func (r *fakeCampaignRepo) ByUUID(ctx context.Context, id string) (*models.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.campaigns {
		if c.UUID.String() == id {
			return cloneCampaign(c), nil
		}
	}
	return nil, nil
}

func (r *fakeCampaignRepo) match(c *models.Campaign, f models.CampaignFilter) bool {
	if f.ID != nil && c.ID != *f.ID {
		return false
	}
	if f.UUID != nil && c.UUID != *f.UUID {
		return false
	}
	if f.UserID != nil && c.UserID != *f.UserID {
		return false
	}
	if f.Status != nil && c.Status != *f.Status {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if c.Status == st {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (r *fakeCampaignRepo) ByFilter(ctx context.Context, filter models.CampaignFilter, orderBy string, limit, offset int) ([]*models.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*models.Campaign{}
	for _, c := range r.s.campaigns {
		if r.match(c, filter) {
			out = append(out, cloneCampaign(c))
		}
	}
	asc := strings.Contains(orderBy, "ASC")
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			if asc {
				return out[i].ID < out[j].ID
			}
			return out[i].ID > out[j].ID
		}
		if asc {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, limit, offset), nil
}

func (r *fakeCampaignRepo) Save(ctx context.Context, c *models.Campaign) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if c.ID == 0 {
		c.ID = r.s.id()
	}
	if c.UUID == uuid.Nil {
		c.UUID = uuid.New()
	}
	r.s.campaigns[c.ID] = cloneCampaign(c)
	return nil
}

func (r *fakeCampaignRepo) SaveBatch(ctx context.Context, cs []*models.Campaign) error {
	for _, c := range cs {
		if err := r.Save(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeCampaignRepo) Count(ctx context.Context, filter models.CampaignFilter) (int64, error) {
	rows, _ := r.ByFilter(ctx, filter, "", 0, 0)
	return int64(len(rows)), nil
}

func (r *fakeCampaignRepo) Exists(ctx context.Context, filter models.CampaignFilter) (bool, error) {
	n, _ := r.Count(ctx, filter)
	return n > 0, nil
}

func (r *fakeCampaignRepo) Update(ctx context.Context, c *models.Campaign) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.campaigns[c.ID]
	if !ok {
		return errors.New("campaign not found")
	}
	now := utils.UTCNow()
	c.UpdatedAt = &now
	stored.Name = c.Name
	stored.EmailFrequency = c.EmailFrequency
	stored.DifficultyLevel = c.DifficultyLevel
	stored.PreferredThemes = append(pq.StringArray(nil), c.PreferredThemes...)
	stored.EmailCount = c.EmailCount
	stored.DurationDays = c.DurationDays
	stored.UpdatedAt = &now
	return nil
}

func (r *fakeCampaignRepo) TransitionStatus(ctx context.Context, id uint, from []models.CampaignStatus, next models.CampaignStatus) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return false, nil
	}
	for _, st := range from {
		if c.Status == st {
			c.Status = next
			now := utils.UTCNow()
			c.UpdatedAt = &now
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeCampaignRepo) PauseActiveByUser(ctx context.Context, userID uint) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, c := range r.s.campaigns {
		if c.UserID == userID && c.Status == models.CampaignStatusActive {
			c.Status = models.CampaignStatusPaused
			n++
		}
	}
	return n, nil
}

func (r *fakeCampaignRepo) CompleteIfResolved(ctx context.Context, id uint) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok || c.Status == models.CampaignStatusCompleted {
		return false, nil
	}
	resolved := 0
	for _, e := range r.s.emails {
		if e.CampaignID == id && e.DeliveryStatus.Resolved() {
			resolved++
		}
	}
	if resolved < c.EmailCount {
		return false, nil
	}
	c.Status = models.CampaignStatusCompleted
	return true, nil
}

func (r *fakeCampaignRepo) CompleteExpired(ctx context.Context, now time.Time) ([]*models.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*models.Campaign{}
	for _, c := range r.s.campaigns {
		if c.Status == models.CampaignStatusCompleted {
			continue
		}
		if c.CreatedAt.Add(utils.Days(c.DurationDays)).After(now) {
			continue
		}
		if c.Status == models.CampaignStatusActive {
			open := false
			for _, e := range r.s.emails {
				if e.CampaignID == c.ID && (e.DeliveryStatus == models.DeliveryStatusPending || e.DeliveryStatus == models.DeliveryStatusSending) {
					open = true
				}
			}
			if open {
				continue
			}
		}
		c.Status = models.CampaignStatusCompleted
		out = append(out, cloneCampaign(c))
	}
	return out, nil
}

func (r *fakeCampaignRepo) ListUnderMaterialized(ctx context.Context, changedBefore time.Time, limit int) ([]*models.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*models.Campaign{}
	for _, c := range r.s.campaigns {
		changed := c.CreatedAt
		if c.UpdatedAt != nil {
			changed = *c.UpdatedAt
		}
		if c.Status != models.CampaignStatusActive || !changed.Before(changedBefore) {
			continue
		}
		if len(r.s.emailsOfLocked(c.ID)) < c.EmailCount {
			out = append(out, cloneCampaign(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, limit, 0), nil
}

func (r *fakeCampaignRepo) Delete(ctx context.Context, id uint) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.campaigns, id)
	for eid, e := range r.s.emails {
		if e.CampaignID == id {
			delete(r.s.emails, eid)
		}
	}
	kept := r.s.tracking[:0]
	for _, t := range r.s.tracking {
		if t.CampaignID != id {
			kept = append(kept, t)
		}
	}
	r.s.tracking = kept
	return nil
}

// ---- campaign emails ----

type fakeEmailRepo struct{ s *memStore }

func (r *fakeEmailRepo) ByID(ctx context.Context, id uint) (*models.CampaignEmail, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return cloneEmail(r.s.emails[id]), nil
}

func (r *fakeEmailRepo) match(e *models.CampaignEmail, f models.CampaignEmailFilter) bool {
	if f.ID != nil && e.ID != *f.ID {
		return false
	}
	if f.CampaignID != nil && e.CampaignID != *f.CampaignID {
		return false
	}
	if f.ClickTrackingID != nil && e.ClickTrackingID != *f.ClickTrackingID {
		return false
	}
	if f.EmailType != nil && e.EmailType != *f.EmailType {
		return false
	}
	if f.DeliveryStatus != nil && e.DeliveryStatus != *f.DeliveryStatus {
		return false
	}
	if f.Sent != nil && e.IsSent() != *f.Sent {
		return false
	}
	if f.Clicked != nil && e.IsClicked() != *f.Clicked {
		return false
	}
	return true
}

func (r *fakeEmailRepo) ByFilter(ctx context.Context, filter models.CampaignEmailFilter, orderBy string, limit, offset int) ([]*models.CampaignEmail, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*models.CampaignEmail{}
	for _, e := range r.s.emails {
		if r.match(e, filter) {
			out = append(out, cloneEmail(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, limit, offset), nil
}

func (r *fakeEmailRepo) Save(ctx context.Context, e *models.CampaignEmail) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if e.ID == 0 {
		e.ID = r.s.id()
	}
	r.s.emails[e.ID] = cloneEmail(e)
	return nil
}

func (r *fakeEmailRepo) SaveBatch(ctx context.Context, es []*models.CampaignEmail) error {
	for _, e := range es {
		if err := r.Save(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeEmailRepo) Count(ctx context.Context, filter models.CampaignEmailFilter) (int64, error) {
	rows, _ := r.ByFilter(ctx, filter, "", 0, 0)
	return int64(len(rows)), nil
}

func (r *fakeEmailRepo) Exists(ctx context.Context, filter models.CampaignEmailFilter) (bool, error) {
	n, _ := r.Count(ctx, filter)
	return n > 0, nil
}

func (r *fakeEmailRepo) ByTrackingID(ctx context.Context, trackingID string) (*models.CampaignEmail, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.emails {
		if e.ClickTrackingID == trackingID {
			return cloneEmail(e), nil
		}
	}
	return nil, nil
}

func (r *fakeEmailRepo) Insert(ctx context.Context, e *models.CampaignEmail) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failInsert > 0 {
		r.s.failInsert--
		return r.s.failInsertErr
	}
	for _, other := range r.s.emails {
		if other.CampaignID == e.CampaignID && other.SlotIndex == e.SlotIndex {
			return repository.ErrDuplicateSlot
		}
		if other.ClickTrackingID == e.ClickTrackingID {
			return repository.ErrDuplicateTrackingID
		}
	}
	e.ID = r.s.id()
	r.s.emails[e.ID] = cloneEmail(e)
	return nil
}

func (r *fakeEmailRepo) TrackingIDExists(ctx context.Context, trackingID string) (bool, error) {
	e, _ := r.ByTrackingID(ctx, trackingID)
	return e != nil, nil
}

func (r *fakeEmailRepo) ListByCampaign(ctx context.Context, campaignID uint) ([]*models.CampaignEmail, error) {
	return r.s.emailsOf(campaignID), nil
}

func (r *fakeEmailRepo) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.CampaignEmail, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	due := []*models.CampaignEmail{}
	for _, e := range r.s.emails {
		c := r.s.campaigns[e.CampaignID]
		if c == nil || c.Status != models.CampaignStatusActive {
			continue
		}
		if e.SentAt == nil && e.DeliveryStatus == models.DeliveryStatusPending && !e.ScheduledSendTime.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].ScheduledSendTime.Equal(due[j].ScheduledSendTime) {
			return due[i].ID < due[j].ID
		}
		return due[i].ScheduledSendTime.Before(due[j].ScheduledSendTime)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]*models.CampaignEmail, 0, len(due))
	for _, e := range due {
		claimed := now
		e.DeliveryStatus = models.DeliveryStatusSending
		e.ClaimedAt = &claimed
		e.DeliveryAttempts++
		out = append(out, cloneEmail(e))
	}
	return out, nil
}

func (r *fakeEmailRepo) ClaimByID(ctx context.Context, id uint, now time.Time) (*models.CampaignEmail, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.emails[id]
	if !ok || e.SentAt != nil || e.DeliveryStatus != models.DeliveryStatusPending {
		return nil, nil
	}
	claimed := now
	e.DeliveryStatus = models.DeliveryStatusSending
	e.ClaimedAt = &claimed
	e.DeliveryAttempts++
	return cloneEmail(e), nil
}

func (r *fakeEmailRepo) MarkSent(ctx context.Context, id uint, recipient string, sentAt time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.emails[id]
	if !ok || e.SentAt != nil || e.DeliveryStatus != models.DeliveryStatusSending {
		return false, nil
	}
	if sentAt.Before(e.CreatedAt) {
		sentAt = e.CreatedAt
	}
	e.SentAt = &sentAt
	e.DeliveryStatus = models.DeliveryStatusSent
	e.RecipientEmail = recipient
	e.ClaimedAt = nil
	e.LastError = nil
	return true, nil
}

func (r *fakeEmailRepo) MarkDeliveryFailed(ctx context.Context, id uint, reason string, maxAttempts int) (models.DeliveryStatus, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.emails[id]
	if !ok || e.DeliveryStatus != models.DeliveryStatusSending {
		return "", nil
	}
	if e.DeliveryAttempts >= maxAttempts {
		e.DeliveryStatus = models.DeliveryStatusFailed
	} else {
		e.DeliveryStatus = models.DeliveryStatusPending
	}
	e.LastError = &reason
	e.ClaimedAt = nil
	return e.DeliveryStatus, nil
}

func (r *fakeEmailRepo) ReleaseStaleClaims(ctx context.Context, claimedBefore time.Time) ([]*models.CampaignEmail, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*models.CampaignEmail{}
	for _, e := range r.s.emails {
		if e.DeliveryStatus == models.DeliveryStatusSending && e.SentAt == nil && e.ClaimedAt != nil && e.ClaimedAt.Before(claimedBefore) {
			reason := "delivery outcome unknown: claim lease expired"
			e.DeliveryStatus = models.DeliveryStatusFailed
			e.LastError = &reason
			e.ClaimedAt = nil
			out = append(out, cloneEmail(e))
		}
	}
	return out, nil
}

func (r *fakeEmailRepo) ReleaseClaims(ctx context.Context, ids []uint) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, id := range ids {
		e, ok := r.s.emails[id]
		if !ok || e.DeliveryStatus != models.DeliveryStatusSending || e.SentAt != nil {
			continue
		}
		e.DeliveryStatus = models.DeliveryStatusPending
		e.ClaimedAt = nil
		if e.DeliveryAttempts > 0 {
			e.DeliveryAttempts--
		}
		n++
	}
	return n, nil
}

func (r *fakeEmailRepo) ResetFailed(ctx context.Context, id uint) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.emails[id]
	if !ok || e.DeliveryStatus != models.DeliveryStatusFailed || e.SentAt != nil {
		return false, nil
	}
	e.DeliveryStatus = models.DeliveryStatusPending
	e.DeliveryAttempts = 0
	e.LastError = nil
	return true, nil
}

func (r *fakeEmailRepo) MarkFirstClick(ctx context.Context, id uint, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.emails[id]
	if !ok || e.ClickedAt != nil || e.SentAt == nil {
		return false, nil
	}
	if at.Before(*e.SentAt) {
		at = *e.SentAt
	}
	e.ClickedAt = &at
	return true, nil
}

func (r *fakeEmailRepo) DeletePending(ctx context.Context, campaignID uint) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, e := range r.s.emails {
		if e.CampaignID == campaignID && e.SentAt == nil &&
			(e.DeliveryStatus == models.DeliveryStatusPending || e.DeliveryStatus == models.DeliveryStatusSkipped) {
			delete(r.s.emails, id)
			n++
		}
	}
	return n, nil
}

func (r *fakeEmailRepo) RescheduleOverdue(ctx context.Context, campaignID uint, from time.Time, step time.Duration) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	pending := []*models.CampaignEmail{}
	for _, e := range r.s.emails {
		if e.CampaignID == campaignID && e.DeliveryStatus == models.DeliveryStatusPending && e.SentAt == nil {
			pending = append(pending, e)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].ScheduledSendTime.Equal(pending[j].ScheduledSendTime) {
			return pending[i].ID < pending[j].ID
		}
		return pending[i].ScheduledSendTime.Before(pending[j].ScheduledSendTime)
	})
	var n int64
	for i, e := range pending {
		target := from.Add(time.Duration(i) * step)
		if e.ScheduledSendTime.Before(target) {
			e.ScheduledSendTime = target
			n++
		}
	}
	return n, nil
}

func (r *fakeEmailRepo) CountResolved(ctx context.Context, campaignID uint) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, e := range r.s.emails {
		if e.CampaignID != campaignID {
			continue
		}
		switch e.DeliveryStatus {
		case models.DeliveryStatusSent, models.DeliveryStatusFailed, models.DeliveryStatusSending:
			n++
		}
	}
	return n, nil
}

func (r *fakeEmailRepo) Stats(ctx context.Context, filter models.EmailStatsFilter) ([]*models.EmailStatsRow, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	reported := map[uint]bool{}
	for _, t := range r.s.tracking {
		if t.PhishingReported {
			reported[t.EmailID] = true
		}
	}
	type key struct {
		d  models.DifficultyLevel
		th string
		et models.EmailType
	}
	groups := map[key]*models.EmailStatsRow{}
	for _, e := range r.s.emails {
		if filter.CampaignID != nil && e.CampaignID != *filter.CampaignID {
			continue
		}
		if filter.UserID != nil {
			c := r.s.campaigns[e.CampaignID]
			if c == nil || c.UserID != *filter.UserID {
				continue
			}
		}
		k := key{e.DifficultyLevel, e.Theme, e.EmailType}
		row, ok := groups[k]
		if !ok {
			row = &models.EmailStatsRow{DifficultyLevel: k.d, Theme: k.th, EmailType: k.et}
			groups[k] = row
		}
		row.Total++
		if e.SentAt != nil {
			row.Sent++
		}
		if e.ClickedAt != nil {
			row.Clicked++
		}
		if reported[e.ID] {
			row.Reported++
		}
	}
	out := make([]*models.EmailStatsRow, 0, len(groups))
	for _, row := range groups {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.DifficultyLevel != b.DifficultyLevel {
			return a.DifficultyLevel < b.DifficultyLevel
		}
		if a.Theme != b.Theme {
			return a.Theme < b.Theme
		}
		return a.EmailType < b.EmailType
	})
	return out, nil
}

// ---- click log ----

type fakeTrackingRepo struct{ s *memStore }

func (r *fakeTrackingRepo) ByID(ctx context.Context, id uint) (*models.EmailTracking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.tracking {
		if t.ID == id {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeTrackingRepo) ByFilter(ctx context.Context, filter models.EmailTrackingFilter, orderBy string, limit, offset int) ([]*models.EmailTracking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*models.EmailTracking{}
	for _, t := range r.s.tracking {
		if filter.TrackingID != nil && t.TrackingID != *filter.TrackingID {
			continue
		}
		if filter.EmailID != nil && t.EmailID != *filter.EmailID {
			continue
		}
		if filter.CampaignID != nil && t.CampaignID != *filter.CampaignID {
			continue
		}
		if filter.PhishingReported != nil && t.PhishingReported != *filter.PhishingReported {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	return page(out, limit, offset), nil
}

func (r *fakeTrackingRepo) Save(ctx context.Context, t *models.EmailTracking) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t.ID = r.s.id()
	cp := *t
	r.s.tracking = append(r.s.tracking, &cp)
	return nil
}

func (r *fakeTrackingRepo) SaveBatch(ctx context.Context, ts []*models.EmailTracking) error {
	for _, t := range ts {
		if err := r.Save(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeTrackingRepo) Count(ctx context.Context, filter models.EmailTrackingFilter) (int64, error) {
	rows, _ := r.ByFilter(ctx, filter, "", 0, 0)
	return int64(len(rows)), nil
}

func (r *fakeTrackingRepo) Exists(ctx context.Context, filter models.EmailTrackingFilter) (bool, error) {
	n, _ := r.Count(ctx, filter)
	return n > 0, nil
}

func (r *fakeTrackingRepo) MarkLatestReported(ctx context.Context, emailID uint, at time.Time) (*models.EmailTracking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var latest *models.EmailTracking
	for _, t := range r.s.tracking {
		if t.EmailID != emailID {
			continue
		}
		if latest == nil || t.ClickedAt.After(latest.ClickedAt) || (t.ClickedAt.Equal(latest.ClickedAt) && t.ID > latest.ID) {
			latest = t
		}
	}
	if latest == nil {
		return nil, nil
	}
	latest.PhishingReported = true
	if latest.ReportedAt == nil {
		reported := at
		latest.ReportedAt = &reported
	}
	cp := *latest
	return &cp, nil
}

// ---- scores ----

type fakeScoreRepo struct{ s *memStore }

func (r *fakeScoreRepo) ByUserID(ctx context.Context, userID uint) (*models.Score, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sc, ok := r.s.scores[userID]
	if !ok {
		return nil, nil
	}
	cp := *sc
	return &cp, nil
}

func (r *fakeScoreRepo) RecordAttempt(ctx context.Context, userID uint, correct bool) (*models.Score, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sc, ok := r.s.scores[userID]
	if !ok {
		sc = &models.Score{UserID: userID}
		r.s.scores[userID] = sc
	}
	sc.LearnAttempted++
	if correct {
		sc.LearnCorrect++
	}
	sc.UpdatedAt = utils.UTCNow()
	cp := *sc
	return &cp, nil
}

// fakeTx runs the unit of work inline
type fakeTx struct{}

func (fakeTx) WithTransaction(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

// recordingCache is an AnalyticsCache that remembers invalidated keys
type recordingCache struct {
	mu          sync.Mutex
	entries     map[string]any
	invalidated []string
}

func newRecordingCache() *recordingCache {
	return &recordingCache{entries: map[string]any{}}
}

func (c *recordingCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	return false, nil
}

func (c *recordingCache) Set(ctx context.Context, key string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

func (c *recordingCache) Invalidate(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, keys...)
	return nil
}

func (c *recordingCache) wasInvalidated(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.invalidated {
		if k == key {
			return true
		}
	}
	return false
}

// harness wires every flow against one memStore
type harness struct {
	store        *memStore
	users        *fakeUserRepo
	prefs        *fakePrefsRepo
	campaignRepo *fakeCampaignRepo
	emailRepo    *fakeEmailRepo
	trackingRepo *fakeTrackingRepo
	scoreRepo    *fakeScoreRepo
	clock        *utils.FixedClock
	generator    *services.MockGenerator
	transport    *services.MockTransport
	cache        *recordingCache

	orchestrator *ContentOrchestratorImpl
	dispatcher   Dispatcher
	campaigns    CampaignFlow
	tracking     TrackingFlow
	analytics    AnalyticsFlow
	preferences  PreferencesFlow
	learn        LearnFlow
}

var harnessEpoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newHarness() *harness {
	s := newMemStore()
	h := &harness{
		store:        s,
		users:        &fakeUserRepo{s},
		prefs:        &fakePrefsRepo{s},
		campaignRepo: &fakeCampaignRepo{s},
		emailRepo:    &fakeEmailRepo{s},
		trackingRepo: &fakeTrackingRepo{s},
		scoreRepo:    &fakeScoreRepo{s},
		clock:        utils.NewFixedClock(harnessEpoch),
		generator:    services.NewMockGenerator(),
		transport:    services.NewMockTransport(zap.NewNop()),
		cache:        newRecordingCache(),
	}

	h.orchestrator = NewContentOrchestrator(h.emailRepo, h.generator, GenerationPolicy{Attempts: 3, BaseBackoff: time.Millisecond}, h.clock, zap.NewNop())
	h.orchestrator.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }

	h.dispatcher = NewDispatcher(h.campaignRepo, h.emailRepo, h.users, h.orchestrator, h.transport, h.cache, DispatcherConfig{
		BatchSize:       50,
		MaxAttempts:     3,
		ClaimLease:      10 * time.Minute,
		TrackingBaseURL: "https://train.example.com",
		FromEmail:       "training@example.com",
		FromName:        "Security Training",
	}, h.clock, zap.NewNop())

	h.campaigns = NewCampaignFlow(h.campaignRepo, h.emailRepo, h.users, h.prefs, h.orchestrator, h.dispatcher, fakeTx{}, h.cache,
		CampaignFlowConfig{LegitimateFraction: 0}, h.clock, zap.NewNop())
	h.tracking = NewTrackingFlow(h.emailRepo, h.trackingRepo, h.campaignRepo, h.users, fakeTx{}, h.cache, h.clock, zap.NewNop())
	h.analytics = NewAnalyticsFlow(h.campaignRepo, h.emailRepo, h.cache, zap.NewNop())
	h.preferences = NewPreferencesFlow(h.prefs, h.campaignRepo, h.campaigns, h.cache, zap.NewNop())
	h.learn = NewLearnFlow(h.scoreRepo, h.orchestrator, zap.NewNop())
	return h
}

// sendAll advances the clock past the whole schedule one period at a time and sweeps
func (h *harness) sendAll(ctx context.Context, days int) {
	for i := 0; i <= days; i++ {
		_, _ = h.dispatcher.Sweep(ctx)
		h.clock.Advance(24 * time.Hour)
	}
}
