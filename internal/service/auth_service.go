package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/trungvo-ux/windows97/internal/config"
	"github.com/trungvo-ux/windows97/internal/domain"
	"github.com/trungvo-ux/windows97/internal/repository"
)

// AuthService validates and rotates opaque per-user auth tokens.
type AuthService struct {
	tokens    repository.TokenRepository
	generator TokenGenerator
	tokenTTL  time.Duration
	grace     time.Duration
	now       func() time.Time
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewAuthService wires dependencies.
func NewAuthService(tokens repository.TokenRepository, generator TokenGenerator, cfg config.Config, logger *zap.Logger) *AuthService {
	if generator == nil {
		generator = HexTokenGenerator{Bytes: defaultTokenBytes}
	}
	return &AuthService{
		tokens:    tokens,
		generator: generator,
		tokenTTL:  cfg.TokenTTL,
		grace:     cfg.TokenGracePeriod,
		now:       time.Now,
		logger:    logger,
		tracer:    otel.Tracer("github.com/trungvo-ux/windows97/internal/service"),
	}
}

// WithTracer replaces the tracer used for service spans.
func (s *AuthService) WithTracer(tracer trace.Tracer) *AuthService {
	if tracer != nil {
		s.tracer = tracer
	}
	return s
}

// WithClock replaces the time source.
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = now
	return s
}

// ValidateToken checks token against the multi-token record, the legacy
// record and finally the grace record of username, in that order. A token
// accepted through the grace record is rotated: the result carries the new
// token the caller must persist. Invalid results never mutate the store.
func (s *AuthService) ValidateToken(ctx context.Context, username, token string) (domain.ValidationResult, error) {
	ctx, span := s.startSpan(ctx, "AuthService.ValidateToken")
	defer span.End()

	user, err := normalizeUsername(username)
	if err != nil || !validToken(token) {
		return domain.ValidationResult{}, nil
	}

	ok, err := s.tokens.HasScopedToken(ctx, user, token)
	if err != nil {
		span.RecordError(err)
		return domain.ValidationResult{}, err
	}
	if ok {
		if err := s.tokens.TouchScopedToken(ctx, user, token, s.tokenTTL); err != nil {
			span.RecordError(err)
			return domain.ValidationResult{}, err
		}
		span.SetAttributes(attribute.String("auth.scheme", "scoped"))
		return domain.ValidationResult{Valid: true}, nil
	}

	legacy, ok, err := s.tokens.LegacyToken(ctx, user)
	if err != nil {
		span.RecordError(err)
		return domain.ValidationResult{}, err
	}
	if ok && legacy == token {
		if err := s.tokens.TouchLegacyToken(ctx, user, s.tokenTTL); err != nil {
			span.RecordError(err)
			return domain.ValidationResult{}, err
		}
		span.SetAttributes(attribute.String("auth.scheme", "legacy"))
		return domain.ValidationResult{Valid: true}, nil
	}

	last, ok, err := s.lastToken(ctx, user)
	if err != nil {
		span.RecordError(err)
		return domain.ValidationResult{}, err
	}
	now := s.now()
	if !ok || last.Token != token || !last.WithinGrace(now, s.grace) {
		return domain.ValidationResult{}, nil
	}

	next, err := s.rotate(ctx, user, token, now)
	if err != nil {
		span.RecordError(err)
		return domain.ValidationResult{}, err
	}
	span.SetAttributes(attribute.String("auth.scheme", "grace"))
	s.audit("token.rotated", "username", user)
	return domain.ValidationResult{Valid: true, NewToken: next}, nil
}

// IssueToken creates a new multi-token record for username.
func (s *AuthService) IssueToken(ctx context.Context, username string) (string, error) {
	ctx, span := s.startSpan(ctx, "AuthService.IssueToken")
	defer span.End()

	user, err := normalizeUsername(username)
	if err != nil {
		return "", err
	}
	token, err := s.generator.NewToken()
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	if err := s.tokens.CreateScopedToken(ctx, user, token, s.now(), s.tokenTTL); err != nil {
		span.RecordError(err)
		return "", err
	}
	s.audit("token.issued", "username", user)
	return token, nil
}

// SupersedeToken moves a current multi-token record into the grace slot of
// username, replacing any earlier grace record.
func (s *AuthService) SupersedeToken(ctx context.Context, username, token string) error {
	ctx, span := s.startSpan(ctx, "AuthService.SupersedeToken")
	defer span.End()

	user, err := normalizeUsername(username)
	if err != nil {
		return err
	}
	if !validToken(token) {
		return domain.ErrInvalidToken
	}
	ok, err := s.tokens.HasScopedToken(ctx, user, token)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrTokenNotFound
	}
	if err := s.saveLastToken(ctx, user, token, s.now()); err != nil {
		span.RecordError(err)
		return err
	}
	if err := s.tokens.DeleteScopedToken(ctx, user, token); err != nil {
		span.RecordError(err)
		return err
	}
	s.audit("token.superseded", "username", user)
	return nil
}

// rotate issues a replacement for a grace token. The three writes are not
// transactional; replaying the same superseded token redoes the rotation.
func (s *AuthService) rotate(ctx context.Context, user, old string, now time.Time) (string, error) {
	next, err := s.generator.NewToken()
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	if err := s.saveLastToken(ctx, user, old, now); err != nil {
		return "", err
	}
	if err := s.tokens.CreateScopedToken(ctx, user, next, now, s.tokenTTL); err != nil {
		return "", err
	}
	return next, nil
}

func (s *AuthService) saveLastToken(ctx context.Context, user, token string, at time.Time) error {
	payload, err := json.Marshal(domain.LastToken{Token: token, ExpiredAt: at.UnixMilli()})
	if err != nil {
		return fmt.Errorf("encode last token: %w", err)
	}
	return s.tokens.SaveLastToken(ctx, user, string(payload), s.grace)
}

// lastToken treats a malformed record as absent.
func (s *AuthService) lastToken(ctx context.Context, user string) (domain.LastToken, bool, error) {
	raw, ok, err := s.tokens.LastToken(ctx, user)
	if err != nil || !ok {
		return domain.LastToken{}, false, err
	}
	var last domain.LastToken
	if err := json.Unmarshal([]byte(raw), &last); err != nil {
		s.log().Warn("discarding malformed last token record", zap.String("username", user), zap.Error(err))
		return domain.LastToken{}, false, nil
	}
	if last.Token == "" {
		return domain.LastToken{}, false, nil
	}
	return last, true, nil
}

func normalizeUsername(username string) (string, error) {
	user := strings.ToLower(strings.TrimSpace(username))
	if user == "" || strings.ContainsAny(user, ": \t\r\n") {
		return "", domain.ErrInvalidUsername
	}
	return user, nil
}

// validToken rejects tokens that could escape their key segment.
func validToken(token string) bool {
	return token != "" && !strings.ContainsAny(token, ": \t\r\n")
}

func (s *AuthService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *AuthService) audit(event string, attrs ...any) {
	logger := s.log()
	if logger == nil {
		return
	}
	fields := make([]zap.Field, 0, len(attrs)/2+2)
	fields = append(fields, zap.String("event", event), zap.Time("timestamp", s.now().UTC()))
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, attrs[i+1]))
	}
	logger.Info("audit", fields...)
}

func (s *AuthService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}
