package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"stokpilot/backend/internal/cache"
	"stokpilot/backend/internal/domain"
	"stokpilot/backend/internal/lock"
	"stokpilot/backend/internal/store"
	"stokpilot/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo     store.Repository
	items    cache.ItemCache
	itemTTL  time.Duration
	locker   lock.Locker
	lockWait time.Duration
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithItemCache(c cache.ItemCache, ttl time.Duration) Option {
	return func(s *Service) {
		if c != nil {
			s.items = c
		}
		if ttl > 0 {
			s.itemTTL = ttl
		}
	}
}

// WithLocker puts a cross-process lock in front of every stock-moving write.
// Stores keep their own transactional locking either way.
func WithLocker(l lock.Locker, wait time.Duration) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
		if wait > 0 {
			s.lockWait = wait
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(repo store.Repository, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})

	s := &Service{
		repo:     repo,
		items:    cache.NoopItemCache{},
		itemTTL:  5 * time.Minute,
		locker:   lock.Nop{},
		lockWait: 3 * time.Second,
		validate: validate,
		logger:   logger.Named("service"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// validateRequest runs struct tag validation and reports the first failing
// field as store.ErrValidation.
func (s *Service) validateRequest(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		if fe.Param() != "" {
			return fmt.Errorf("%w: %s must satisfy %s=%s", store.ErrValidation, fe.Namespace(), fe.Tag(), fe.Param())
		}
		return fmt.Errorf("%w: %s must satisfy %s", store.ErrValidation, fe.Namespace(), fe.Tag())
	}
	return fmt.Errorf("%w: %v", store.ErrValidation, err)
}

func amountError(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", store.ErrValidation, what, err)
}

// guard takes the service-level lock over keys for the duration of fn.
func (s *Service) guard(ctx context.Context, keys []string, fn func() error) error {
	release, err := s.locker.Acquire(ctx, keys, s.lockWait)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return fmt.Errorf("%w: waited %s", store.ErrLockTimeout, s.lockWait)
		}
		return err
	}
	defer release()
	return fn()
}

func actorName(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok && actor.Username != "" {
		return actor.Username
	}
	return "system"
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.Warn("audit log write failed",
			zap.String("action", action),
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
			zap.Error(err),
		)
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	if strings.TrimSpace(date) == "" {
		now := s.now()
		return s.repo.ListAuditLogs(ctx, now.Add(-24*time.Hour), now.Add(time.Second), limit)
	}
	from, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrValidation)
	}
	return s.repo.ListAuditLogs(ctx, from.UTC(), from.UTC().Add(24*time.Hour), limit)
}

func itemKey(itemID string) string {
	return "item:" + itemID
}
