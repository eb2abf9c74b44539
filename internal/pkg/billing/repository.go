package billing

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/subkeeper/subkeeper/app/models"
)

// Repository provides the DB operations used by the billing engine.
// Transaction hands the callback a Repository bound to the transaction, so
// a whole state transition commits or rolls back as one unit.
type Repository interface {
	Transaction(fn func(Repository) error) error

	GetSubscription(id uint) (*models.Subscription, error)
	SaveSubscription(sub *models.Subscription) error
	ListPastDueWithGrace() ([]models.Subscription, error)

	UpsertSucceededPayment(payment *models.Payment) error
	FindPaymentByProviderRef(ref string) (*models.Payment, error)

	AppendHistory(entry *models.SubscriptionHistory) error
	HasHistory(subscriptionID uint, action, reason string) (bool, error)
	ListHistory(subscriptionID uint) ([]models.SubscriptionHistory, error)

	GetUser(id uint) (*models.User, error)
	FindUserByEmail(email string) (*models.User, error)
	ListCandidateSubscriptions(userID uint, statuses []string, since time.Time) ([]models.Subscription, error)

	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Transaction(fn func(Repository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (r *gormRepository) GetSubscription(id uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Preload("Plan").First(&sub, id).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) SaveSubscription(sub *models.Subscription) error {
	return r.db.Save(sub).Error
}

func (r *gormRepository) ListPastDueWithGrace() ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.
		Where("status = ? AND grace_period_end IS NOT NULL", models.SubscriptionStatusPastDue).
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) UpsertSucceededPayment(payment *models.Payment) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "provider_ref"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"subscription_id",
			"status",
			"updated_at",
		}),
	}).Create(payment).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.Where("provider_ref = ?", payment.ProviderRef).First(payment).Error
}

func (r *gormRepository) FindPaymentByProviderRef(ref string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.Where("provider_ref = ?", ref).First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *gormRepository) AppendHistory(entry *models.SubscriptionHistory) error {
	return r.db.Create(entry).Error
}

func (r *gormRepository) HasHistory(subscriptionID uint, action, reason string) (bool, error) {
	var count int64
	err := r.db.Model(&models.SubscriptionHistory{}).
		Where("subscription_id = ? AND action = ? AND reason = ?", subscriptionID, action, reason).
		Count(&count).Error
	return count > 0, err
}

func (r *gormRepository) ListHistory(subscriptionID uint) ([]models.SubscriptionHistory, error) {
	var entries []models.SubscriptionHistory
	err := r.db.
		Where("subscription_id = ?", subscriptionID).
		Order("created_at ASC, id ASC").
		Find(&entries).Error
	return entries, err
}

func (r *gormRepository) GetUser(id uint) (*models.User, error) {
	var user models.User
	err := r.db.First(&user, id).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) FindUserByEmail(email string) (*models.User, error) {
	var user models.User
	err := r.db.Where("email = ?", email).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) ListCandidateSubscriptions(userID uint, statuses []string, since time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.Preload("Plan").
		Where("user_id = ? AND status IN ? AND created_at >= ?", userID, statuses, since).
		Order("created_at DESC").
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
