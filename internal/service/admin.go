package service

import (
	"context"
	"fmt"

	"github.com/sakif/mercado-insights/internal/model"
	"github.com/sakif/mercado-insights/internal/repository"
)

// AdminService backs the admin listing pages.
type AdminService struct {
	users repository.UserRepository
	subs  repository.SubscriptionRepository
}

func NewAdminService(users repository.UserRepository, subs repository.SubscriptionRepository) *AdminService {
	return &AdminService{users: users, subs: subs}
}

func (s *AdminService) ListUsers(ctx context.Context, opts repository.ListOptions) ([]model.User, error) {
	users, err := s.users.ListUsers(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("service/admin: listing users: %w", err)
	}
	if users == nil {
		users = []model.User{}
	}
	return users, nil
}

func (s *AdminService) ListSubscriptions(ctx context.Context, opts repository.ListOptions) ([]model.SubscriptionView, error) {
	subs, err := s.subs.ListSubscriptions(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("service/admin: listing subscriptions: %w", err)
	}
	if subs == nil {
		subs = []model.SubscriptionView{}
	}
	return subs, nil
}
