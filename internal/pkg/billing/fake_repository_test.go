package billing

import (
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/subkeeper/subkeeper/app/models"
)

// fakeRepository is an in-memory Repository for tests. All reads return
// copies so a caller mutating a loaded row cannot bypass Save.
type fakeRepository struct {
	mu       sync.Mutex
	subs     map[uint]models.Subscription
	plans    map[uint]models.Plan
	users    map[uint]models.User
	payments map[string]models.Payment
	history  []models.SubscriptionHistory
	events   map[string]models.WebhookEvent
	nextID   uint

	failSave int // remaining SaveSubscription calls to fail, for retry tests
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		subs:     make(map[uint]models.Subscription),
		plans:    make(map[uint]models.Plan),
		users:    make(map[uint]models.User),
		payments: make(map[string]models.Payment),
		events:   make(map[string]models.WebhookEvent),
		nextID:   1,
	}
}

func (r *fakeRepository) id() uint {
	id := r.nextID
	r.nextID++
	return id
}

func (r *fakeRepository) addUser(email string) *models.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	user := models.User{ID: r.id(), Email: email}
	r.users[user.ID] = user
	return &user
}

func (r *fakeRepository) addPlan(price int64, currency, interval string) *models.Plan {
	r.mu.Lock()
	defer r.mu.Unlock()
	plan := models.Plan{ID: r.id(), Code: "plan", Price: price, Currency: currency, Interval: interval, IsActive: true}
	r.plans[plan.ID] = plan
	return &plan
}

func (r *fakeRepository) addSubscription(userID, planID uint, status string, createdAt time.Time) *models.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub := models.Subscription{ID: r.id(), UserID: userID, PlanID: planID, Status: status, CreatedAt: createdAt}
	r.subs[sub.ID] = sub
	return &sub
}

func (r *fakeRepository) Transaction(fn func(Repository) error) error {
	return fn(r)
}

func (r *fakeRepository) GetSubscription(id uint) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	if plan, ok := r.plans[sub.PlanID]; ok {
		p := plan
		sub.Plan = &p
	}
	return &sub, nil
}

func (r *fakeRepository) SaveSubscription(sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSave > 0 {
		r.failSave--
		return NewFailure(FailureConnection, "injected", nil)
	}
	saved := *sub
	saved.Plan = nil
	r.subs[sub.ID] = saved
	return nil
}

func (r *fakeRepository) ListPastDueWithGrace() ([]models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Subscription
	for _, sub := range r.subs {
		if sub.Status == models.SubscriptionStatusPastDue && sub.GracePeriodEnd != nil {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (r *fakeRepository) UpsertSucceededPayment(payment *models.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.payments[payment.ProviderRef]; ok {
		existing.SubscriptionID = payment.SubscriptionID
		existing.Status = payment.Status
		r.payments[payment.ProviderRef] = existing
		*payment = existing
		return nil
	}
	payment.ID = r.id()
	r.payments[payment.ProviderRef] = *payment
	return nil
}

func (r *fakeRepository) FindPaymentByProviderRef(ref string) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	payment, ok := r.payments[ref]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &payment, nil
}

func (r *fakeRepository) AppendHistory(entry *models.SubscriptionHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.ID = r.id()
	entry.CreatedAt = time.Now()
	r.history = append(r.history, *entry)
	return nil
}

func (r *fakeRepository) HasHistory(subscriptionID uint, action, reason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.history {
		if entry.SubscriptionID == subscriptionID && entry.Action == action && entry.Reason == reason {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepository) ListHistory(subscriptionID uint) ([]models.SubscriptionHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SubscriptionHistory
	for _, entry := range r.history {
		if entry.SubscriptionID == subscriptionID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (r *fakeRepository) countHistory(subscriptionID uint, action string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, entry := range r.history {
		if entry.SubscriptionID == subscriptionID && entry.Action == action {
			count++
		}
	}
	return count
}

func (r *fakeRepository) GetUser(id uint) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &user, nil
}

func (r *fakeRepository) FindUserByEmail(email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if strings.EqualFold(user.Email, email) {
			u := user
			return &u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepository) ListCandidateSubscriptions(userID uint, statuses []string, since time.Time) ([]models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Subscription
	for _, sub := range r.subs {
		if sub.UserID != userID || sub.CreatedAt.Before(since) {
			continue
		}
		match := false
		for _, status := range statuses {
			if sub.Status == status {
				match = true
				break
			}
		}
		if !match {
			continue
		}
		if plan, ok := r.plans[sub.PlanID]; ok {
			p := plan
			sub.Plan = &p
		}
		out = append(out, sub)
	}
	return out, nil
}

func (r *fakeRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := event.Provider + "|" + event.ProviderEventID
	if stored, ok := r.events[key]; ok {
		return false, &stored, nil
	}
	event.ID = r.id()
	r.events[key] = *event
	stored := r.events[key]
	return true, &stored, nil
}

func (r *fakeRepository) MarkWebhookProcessed(id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for key, event := range r.events {
		if event.ID == id {
			event.ProcessedAt = &now
			event.ProcessingError = processingError
			r.events[key] = event
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}
