package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"

	"carblock-backend/internal/models"
	"carblock-backend/internal/plate"
	"carblock-backend/internal/repository"
	"carblock-backend/internal/services"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memAlertStore is an in-memory AlertStore.
type memAlertStore struct {
	alerts     map[string]*models.Alert
	failCreate error
}

func newMemAlertStore() *memAlertStore {
	return &memAlertStore{alerts: make(map[string]*models.Alert)}
}

func (s *memAlertStore) Create(_ context.Context, alert *models.Alert) error {
	if s.failCreate != nil {
		return s.failCreate
	}
	cp := *alert
	s.alerts[alert.ID] = &cp
	return nil
}

func (s *memAlertStore) GetByID(_ context.Context, id string) (*models.Alert, error) {
	alert, ok := s.alerts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *alert
	return &cp, nil
}

func (s *memAlertStore) FindActiveForPlate(_ context.Context, p string) (*models.Alert, error) {
	var newest *models.Alert
	for _, alert := range s.alerts {
		if alert.DetectedPlate != p || alert.Status == models.StatusResolved {
			continue
		}
		if newest == nil || alert.CreatedAt.After(newest.CreatedAt) {
			newest = alert
		}
	}
	if newest == nil {
		return nil, repository.ErrNotFound
	}
	cp := *newest
	return &cp, nil
}

func (s *memAlertStore) UpdateStatus(_ context.Context, id string, status models.AlertStatus) error {
	alert, ok := s.alerts[id]
	if !ok {
		return repository.ErrNotFound
	}
	alert.Status = status
	alert.UpdatedAt = time.Now()
	return nil
}

func (s *memAlertStore) CountBySenderSince(_ context.Context, senderID string, since time.Time) (int, error) {
	count := 0
	for _, alert := range s.alerts {
		if alert.SentBy(senderID) && !alert.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *memAlertStore) list(userID string, sent bool, limit int) []models.HistoryItem {
	var items []models.HistoryItem
	for _, alert := range s.alerts {
		match := alert.ReceiverID == userID
		typ := "received"
		if sent {
			match = alert.SentBy(userID)
			typ = "sent"
		}
		if !match {
			continue
		}
		items = append(items, models.HistoryItem{
			ID:            alert.ID,
			DetectedPlate: alert.DetectedPlate,
			Status:        alert.Status,
			CreatedAt:     alert.CreatedAt,
			Type:          typ,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

func (s *memAlertStore) ListSent(_ context.Context, userID string, limit int) ([]models.HistoryItem, error) {
	return s.list(userID, true, limit), nil
}

func (s *memAlertStore) ListReceived(_ context.Context, userID string, limit int) ([]models.HistoryItem, error) {
	return s.list(userID, false, limit), nil
}

func (s *memAlertStore) DeleteOrphaned(_ context.Context) (int64, error) {
	var deleted int64
	for id, alert := range s.alerts {
		if alert.SenderID == nil {
			delete(s.alerts, id)
			deleted++
		}
	}
	return deleted, nil
}

// memUserStore is an in-memory UserStore.
type memUserStore struct {
	users map[string]*models.User
}

func newMemUserStore() *memUserStore {
	return &memUserStore{users: make(map[string]*models.User)}
}

func (s *memUserStore) add(user *models.User) *models.User {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	s.users[user.ID] = user
	return user
}

func (s *memUserStore) find(match func(*models.User) bool) (*models.User, error) {
	for _, user := range s.users {
		if match(user) {
			cp := *user
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *memUserStore) GetByID(_ context.Context, id string) (*models.User, error) {
	return s.find(func(u *models.User) bool { return u.ID == id })
}

func (s *memUserStore) GetByEmail(_ context.Context, email string) (*models.User, error) {
	return s.find(func(u *models.User) bool { return u.Email == email })
}

func (s *memUserStore) GetByPhone(_ context.Context, phone string) (*models.User, error) {
	return s.find(func(u *models.User) bool { return u.Phone != nil && *u.Phone == phone })
}

func (s *memUserStore) GetByPlate(_ context.Context, p string) (*models.User, error) {
	return s.find(func(u *models.User) bool { return u.CarPlate != nil && *u.CarPlate == p })
}

func (s *memUserStore) Create(_ context.Context, user *models.User) error {
	for _, existing := range s.users {
		if existing.Email == user.Email ||
			(user.Phone != nil && existing.Phone != nil && *existing.Phone == *user.Phone) ||
			(user.CarPlate != nil && existing.CarPlate != nil && *existing.CarPlate == *user.CarPlate) {
			return repository.ErrUniqueViolation
		}
	}
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

func (s *memUserStore) Update(_ context.Context, user *models.User) error {
	existing, ok := s.users[user.ID]
	if !ok {
		return repository.ErrNotFound
	}
	for _, other := range s.users {
		if other.ID == user.ID {
			continue
		}
		if (user.Phone != nil && other.Phone != nil && *other.Phone == *user.Phone) ||
			(user.CarPlate != nil && other.CarPlate != nil && *other.CarPlate == *user.CarPlate) {
			return repository.ErrUniqueViolation
		}
	}
	existing.Name = user.Name
	existing.Phone = user.Phone
	existing.CarPlate = user.CarPlate
	existing.UpdatedAt = user.UpdatedAt
	return nil
}

func (s *memUserStore) UpdatePushSubscription(_ context.Context, userID string, subscription json.RawMessage) error {
	user, ok := s.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	user.PushSubscription = subscription
	return nil
}

// notifyCall records one dispatched notification.
type notifyCall struct {
	kind      string // "created", "move", "unblocked"
	recipient string
	urgent    bool
}

// recorderNotifier records dispatched notifications.
type recorderNotifier struct {
	calls []notifyCall
}

func (n *recorderNotifier) AlertCreated(_ context.Context, _ *models.Alert, receiver *models.User) {
	n.calls = append(n.calls, notifyCall{kind: "created", recipient: receiver.ID})
}

func (n *recorderNotifier) MoveRequested(_ context.Context, _ *models.Alert, sender, _ *models.User, urgent bool) {
	n.calls = append(n.calls, notifyCall{kind: "move", recipient: sender.ID, urgent: urgent})
}

func (n *recorderNotifier) Unblocked(_ context.Context, _ *models.Alert, _, receiver *models.User) {
	n.calls = append(n.calls, notifyCall{kind: "unblocked", recipient: receiver.ID})
}

type fixture struct {
	alerts   *memAlertStore
	users    *memUserStore
	notifier *recorderNotifier
	service  *services.AlertService
	owner    *models.User
	sender   *models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	alerts := newMemAlertStore()
	users := newMemUserStore()
	notifier := &recorderNotifier{}

	ownerPlate := "12-345-67"
	ownerName := "Dana"
	ownerPhone := "0501234567"
	owner := users.add(&models.User{
		Name:     &ownerName,
		Email:    "o@x.com",
		Phone:    &ownerPhone,
		CarPlate: &ownerPlate,
	})
	sender := users.add(&models.User{Email: "sender@x.com"})

	return &fixture{
		alerts:   alerts,
		users:    users,
		notifier: notifier,
		service:  services.NewAlertService(alerts, users, notifier, 3, true),
		owner:    owner,
		sender:   sender,
	}
}

func (f *fixture) submit(t *testing.T, senderID, rawPlate string) *models.Alert {
	t.Helper()
	alert, owner, err := f.service.SubmitAlert(context.Background(), senderID, rawPlate, false, nil)
	require.NoError(t, err)
	require.NotNil(t, owner)
	return alert
}

func TestSubmitAlertInvalidPlate(t *testing.T) {
	f := newFixture(t)
	for _, raw := range []string{"", "123456", "123456789"} {
		_, _, err := f.service.SubmitAlert(context.Background(), f.sender.ID, raw, false, nil)
		assert.ErrorIs(t, err, plate.ErrInvalidPlate, "plate %q", raw)
	}
}

func TestSubmitAlertUnregisteredPlate(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.service.SubmitAlert(context.Background(), f.sender.ID, "99-999-99", false, nil)
	assert.ErrorIs(t, err, services.ErrPlateNotRegistered)
}

func TestSubmitAlertSelf(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.service.SubmitAlert(context.Background(), f.owner.ID, "1234567", false, nil)
	assert.ErrorIs(t, err, services.ErrSelfAlert)
}

func TestSubmitAlertNormalizesPlate(t *testing.T) {
	f := newFixture(t)
	alert := f.submit(t, f.sender.ID, "1234567")
	assert.Equal(t, "12-345-67", alert.DetectedPlate)
	assert.Equal(t, models.StatusActive, alert.Status)
	assert.Equal(t, f.owner.ID, alert.ReceiverID)
	require.NotNil(t, alert.SenderID)
	assert.Equal(t, f.sender.ID, *alert.SenderID)
}

func TestSubmitAlertNotifiesReceiver(t *testing.T) {
	f := newFixture(t)
	f.submit(t, f.sender.ID, "12-345-67")
	require.Len(t, f.notifier.calls, 1)
	assert.Equal(t, notifyCall{kind: "created", recipient: f.owner.ID}, f.notifier.calls[0])
}

func TestSubmitAlertIdempotentForSameSender(t *testing.T) {
	f := newFixture(t)
	first := f.submit(t, f.sender.ID, "12-345-67")
	second := f.submit(t, f.sender.ID, "1234567")

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, f.alerts.alerts, 1)
	// no second notification for the no-op resubmit
	assert.Len(t, f.notifier.calls, 1)
}

func TestSubmitAlertConflictForDifferentSender(t *testing.T) {
	f := newFixture(t)
	other := f.users.add(&models.User{Email: "other@x.com"})

	f.submit(t, f.sender.ID, "12-345-67")
	_, _, err := f.service.SubmitAlert(context.Background(), other.ID, "12-345-67", false, nil)
	assert.ErrorIs(t, err, services.ErrAlreadyBlocked)
	assert.Len(t, f.alerts.alerts, 1)
}

func TestSubmitAlertAllowedAgainAfterResolve(t *testing.T) {
	f := newFixture(t)
	other := f.users.add(&models.User{Email: "other@x.com"})

	first := f.submit(t, f.sender.ID, "12-345-67")
	_, err := f.service.UpdateStatus(context.Background(), first.ID, models.StatusResolved, f.sender.ID)
	require.NoError(t, err)

	second := f.submit(t, other.ID, "12-345-67")
	assert.NotEqual(t, first.ID, second.ID)
}

func TestSubmitAlertRateLimited(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	for i := 0; i < 3; i++ {
		id := uuid.New().String()
		f.alerts.alerts[id] = &models.Alert{
			ID:            id,
			SenderID:      &f.sender.ID,
			ReceiverID:    "someone",
			DetectedPlate: "00-000-0" + string(rune('0'+i)),
			Status:        models.StatusResolved,
			CreatedAt:     now.Add(-10 * time.Second),
		}
	}

	_, _, err := f.service.SubmitAlert(context.Background(), f.sender.ID, "12-345-67", false, nil)
	assert.ErrorIs(t, err, services.ErrRateLimited)
}

func TestSubmitAlertRateLimitWindowExpires(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	for i := 0; i < 3; i++ {
		id := uuid.New().String()
		f.alerts.alerts[id] = &models.Alert{
			ID:            id,
			SenderID:      &f.sender.ID,
			ReceiverID:    "someone",
			DetectedPlate: "00-000-0" + string(rune('0'+i)),
			Status:        models.StatusResolved,
			CreatedAt:     now.Add(-2 * time.Minute),
		}
	}

	_, _, err := f.service.SubmitAlert(context.Background(), f.sender.ID, "12-345-67", false, nil)
	assert.NoError(t, err)
}

func TestSubmitAlertStorageErrorSurfaces(t *testing.T) {
	f := newFixture(t)
	f.alerts.failCreate = errors.New("connection reset")

	_, _, err := f.service.SubmitAlert(context.Background(), f.sender.ID, "12-345-67", false, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, services.ErrAlreadyBlocked)
	// nothing was notified for a failed insert
	assert.Empty(t, f.notifier.calls)
}

func TestSubmitAlertCreateRaceMapsToAlreadyBlocked(t *testing.T) {
	f := newFixture(t)
	f.alerts.failCreate = repository.ErrUniqueViolation

	_, _, err := f.service.SubmitAlert(context.Background(), f.sender.ID, "12-345-67", false, nil)
	assert.ErrorIs(t, err, services.ErrAlreadyBlocked)
}

func TestUpdateStatusNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.UpdateStatus(context.Background(), uuid.New().String(), models.StatusResolved, f.sender.ID)
	assert.ErrorIs(t, err, services.ErrAlertNotFound)
}

func TestUpdateStatusInvalidTargets(t *testing.T) {
	f := newFixture(t)
	alert := f.submit(t, f.sender.ID, "12-345-67")

	for _, target := range []models.AlertStatus{"active", "bogus", ""} {
		_, err := f.service.UpdateStatus(context.Background(), alert.ID, target, f.owner.ID)
		assert.ErrorIs(t, err, services.ErrInvalidStatus, "target %q", target)
	}
}

func TestUpdateStatusAuthorization(t *testing.T) {
	third := &models.User{ID: uuid.New().String(), Email: "third@x.com"}

	tests := []struct {
		name    string
		target  models.AlertStatus
		actor   func(f *fixture) string
		wantErr error
	}{
		{"sender cannot set leaving_soon", models.StatusLeavingSoon, func(f *fixture) string { return f.sender.ID }, services.ErrForbidden},
		{"third party cannot set leaving_soon", models.StatusLeavingSoon, func(f *fixture) string { return third.ID }, services.ErrForbidden},
		{"receiver sets leaving_soon", models.StatusLeavingSoon, func(f *fixture) string { return f.owner.ID }, nil},
		{"third party cannot resolve", models.StatusResolved, func(f *fixture) string { return third.ID }, services.ErrForbidden},
		{"sender resolves", models.StatusResolved, func(f *fixture) string { return f.sender.ID }, nil},
		{"receiver resolves", models.StatusResolved, func(f *fixture) string { return f.owner.ID }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			alert := f.submit(t, f.sender.ID, "12-345-67")

			_, err := f.service.UpdateStatus(context.Background(), alert.ID, tt.target, tt.actor(f))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestUpdateStatusLeavingNowRequiresLeavingSoon(t *testing.T) {
	f := newFixture(t)
	alert := f.submit(t, f.sender.ID, "12-345-67")

	// active -> leaving_now skips the leaving_soon edge
	_, err := f.service.UpdateStatus(context.Background(), alert.ID, models.StatusLeavingNow, f.owner.ID)
	assert.ErrorIs(t, err, services.ErrInvalidTransition)

	_, err = f.service.UpdateStatus(context.Background(), alert.ID, models.StatusLeavingSoon, f.owner.ID)
	require.NoError(t, err)
	updated, err := f.service.UpdateStatus(context.Background(), alert.ID, models.StatusLeavingNow, f.owner.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusLeavingNow, updated.Status)
}

func TestUpdateStatusLeavingNowDisabled(t *testing.T) {
	f := newFixture(t)
	svc := services.NewAlertService(f.alerts, f.users, f.notifier, 3, false)

	alert := f.submit(t, f.sender.ID, "12-345-67")
	_, err := svc.UpdateStatus(context.Background(), alert.ID, models.StatusLeavingSoon, f.owner.ID)
	require.NoError(t, err)

	_, err = svc.UpdateStatus(context.Background(), alert.ID, models.StatusLeavingNow, f.owner.ID)
	assert.ErrorIs(t, err, services.ErrInvalidStatus)
}

func TestUpdateStatusResolvedIsTerminal(t *testing.T) {
	f := newFixture(t)
	alert := f.submit(t, f.sender.ID, "12-345-67")

	_, err := f.service.UpdateStatus(context.Background(), alert.ID, models.StatusResolved, f.owner.ID)
	require.NoError(t, err)

	for _, target := range []models.AlertStatus{models.StatusLeavingSoon, models.StatusLeavingNow, models.StatusResolved} {
		_, err := f.service.UpdateStatus(context.Background(), alert.ID, target, f.owner.ID)
		assert.ErrorIs(t, err, services.ErrInvalidTransition, "target %q", target)
	}
}

func TestNotificationMapping(t *testing.T) {
	t.Run("leaving_soon notifies sender", func(t *testing.T) {
		f := newFixture(t)
		alert := f.submit(t, f.sender.ID, "12-345-67")
		f.notifier.calls = nil

		_, err := f.service.UpdateStatus(context.Background(), alert.ID, models.StatusLeavingSoon, f.owner.ID)
		require.NoError(t, err)
		require.Len(t, f.notifier.calls, 1)
		assert.Equal(t, notifyCall{kind: "move", recipient: f.sender.ID, urgent: false}, f.notifier.calls[0])
	})

	t.Run("leaving_now notifies sender urgently", func(t *testing.T) {
		f := newFixture(t)
		alert := f.submit(t, f.sender.ID, "12-345-67")
		_, err := f.service.UpdateStatus(context.Background(), alert.ID, models.StatusLeavingSoon, f.owner.ID)
		require.NoError(t, err)
		f.notifier.calls = nil

		_, err = f.service.UpdateStatus(context.Background(), alert.ID, models.StatusLeavingNow, f.owner.ID)
		require.NoError(t, err)
		require.Len(t, f.notifier.calls, 1)
		assert.Equal(t, notifyCall{kind: "move", recipient: f.sender.ID, urgent: true}, f.notifier.calls[0])
	})

	t.Run("resolve by sender notifies receiver", func(t *testing.T) {
		f := newFixture(t)
		alert := f.submit(t, f.sender.ID, "12-345-67")
		f.notifier.calls = nil

		_, err := f.service.UpdateStatus(context.Background(), alert.ID, models.StatusResolved, f.sender.ID)
		require.NoError(t, err)
		require.Len(t, f.notifier.calls, 1)
		assert.Equal(t, notifyCall{kind: "unblocked", recipient: f.owner.ID}, f.notifier.calls[0])
	})

	t.Run("resolve by receiver notifies nobody", func(t *testing.T) {
		f := newFixture(t)
		alert := f.submit(t, f.sender.ID, "12-345-67")
		f.notifier.calls = nil

		_, err := f.service.UpdateStatus(context.Background(), alert.ID, models.StatusResolved, f.owner.ID)
		require.NoError(t, err)
		assert.Empty(t, f.notifier.calls)
	})
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	senderPlate := "98-765-43"
	f.sender.CarPlate = &senderPlate

	sent := f.submit(t, f.sender.ID, "12-345-67")
	received := f.submit(t, f.owner.ID, senderPlate)

	items, err := f.service.History(context.Background(), f.sender.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)

	byID := map[string]models.HistoryItem{}
	for _, item := range items {
		byID[item.ID] = item
	}
	assert.Equal(t, "sent", byID[sent.ID].Type)
	assert.Equal(t, "received", byID[received.ID].Type)
}

func TestCleanup(t *testing.T) {
	f := newFixture(t)
	orphan := uuid.New().String()
	f.alerts.alerts[orphan] = &models.Alert{
		ID:            orphan,
		ReceiverID:    f.owner.ID,
		DetectedPlate: "12-345-67",
		Status:        models.StatusResolved,
		CreatedAt:     time.Now(),
	}
	f.submit(t, f.sender.ID, "12-345-67")

	deleted, err := f.service.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Len(t, f.alerts.alerts, 1)
}

var _ services.AlertStore = (*memAlertStore)(nil)
var _ services.UserStore = (*memUserStore)(nil)
var _ services.Notifier = (*recorderNotifier)(nil)
