package store

import (
	"context"

	"gorm.io/gorm"

	"sep_psp/internal/models"
)

// MerchantRepository is the gorm backed MerchantStore
type MerchantRepository struct {
	db *gorm.DB
}

func NewMerchantRepository(db *gorm.DB) *MerchantRepository {
	return &MerchantRepository{db: db}
}

func (r *MerchantRepository) FindByMerchantID(ctx context.Context, merchantID string) (*models.WebShopClient, error) {
	var client models.WebShopClient
	err := r.db.WithContext(ctx).
		Preload("PaymentMethods.PaymentType").
		Where("merchant_id = ?", merchantID).
		First(&client).Error
	if err != nil {
		return nil, translate(err)
	}
	return &client, nil
}

func (r *MerchantRepository) FindByID(ctx context.Context, id uint) (*models.WebShopClient, error) {
	var client models.WebShopClient
	if err := r.db.WithContext(ctx).Preload("PaymentMethods.PaymentType").First(&client, id).Error; err != nil {
		return nil, translate(err)
	}
	return &client, nil
}

func (r *MerchantRepository) List(ctx context.Context) ([]models.WebShopClient, error) {
	var clients []models.WebShopClient
	err := r.db.WithContext(ctx).Preload("PaymentMethods.PaymentType").Order("id").Find(&clients).Error
	return clients, translate(err)
}

// PaymentTypeRepository is the gorm backed PaymentTypeStore
type PaymentTypeRepository struct {
	db *gorm.DB
}

func NewPaymentTypeRepository(db *gorm.DB) *PaymentTypeRepository {
	return &PaymentTypeRepository{db: db}
}

func (r *PaymentTypeRepository) List(ctx context.Context) ([]models.PaymentType, error) {
	var types []models.PaymentType
	err := r.db.WithContext(ctx).Order("id").Find(&types).Error
	return types, translate(err)
}

func (r *PaymentTypeRepository) Create(ctx context.Context, paymentType *models.PaymentType) error {
	return translate(r.db.WithContext(ctx).Create(paymentType).Error)
}
