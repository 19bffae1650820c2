package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// admitRequest checks backoff and quota headroom before a provider call.
// Without a governor every request is admitted.
func (s *Service) admitRequest(ctx context.Context, provider string, class OperationClass) error {
	if s == nil || s.governor == nil {
		return nil
	}
	provider = strings.TrimSpace(provider)

	inBackoff, until, err := s.governor.IsInBackoff(ctx, provider)
	if err != nil {
		return fmt.Errorf("core: backoff check failed: %w", err)
	}
	if inBackoff {
		var retryAfter time.Duration
		if until != nil {
			retryAfter = time.Until(*until)
		}
		return NewRateLimitedError(
			fmt.Sprintf("core: provider %s is backing off", provider),
			retryAfter,
		)
	}

	allowed, err := s.governor.CanMakeRequest(ctx, provider, class)
	if err != nil {
		return fmt.Errorf("core: quota check failed: %w", err)
	}
	if !allowed {
		return NewRateLimitedError(
			fmt.Sprintf("core: quota exhausted for provider %s class %s", provider, class),
			0,
		)
	}
	return nil
}

func (s *Service) recordRequest(ctx context.Context, provider string, class OperationClass) {
	if s == nil || s.governor == nil {
		return
	}
	if err := s.governor.RecordRequest(ctx, strings.TrimSpace(provider), class); err != nil {
		s.logWarn("rate usage record failed", "provider", provider, "class", string(class), "error", err)
	}
}

// recordThrottle feeds a provider 429 back into the governor so the adaptive
// backoff window opens.
func (s *Service) recordThrottle(ctx context.Context, provider string, class OperationClass, err error) {
	if s == nil || s.governor == nil || err == nil {
		return
	}
	if !IsRateLimited(err) {
		return
	}
	retryAfter, _ := RetryAfterHint(err)
	if throttleErr := s.governor.RecordThrottle(ctx, strings.TrimSpace(provider), class, retryAfter); throttleErr != nil {
		s.logWarn("throttle record failed", "provider", provider, "class", string(class), "error", throttleErr)
	}
}

// governedCall wraps one provider request with admission, usage accounting,
// and throttle feedback. Usage is recorded only after the call succeeds: a
// failed call must not consume quota, and recording it would also clear an
// expired backoff entry before RecordThrottle could escalate it.
func (s *Service) governedCall(ctx context.Context, provider string, class OperationClass, op func(context.Context) error) error {
	if err := s.admitRequest(ctx, provider, class); err != nil {
		return err
	}
	if err := op(ctx); err != nil {
		s.recordThrottle(ctx, provider, class, err)
		return err
	}
	s.recordRequest(ctx, provider, class)
	return nil
}
