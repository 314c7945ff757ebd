package agent

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v5"
	"go.uber.org/zap"
)

const (
	registrationAttempts  = 3
	registrationDelay     = time.Second
	registrationRespLimit = 4 * 1024
)

// Registrar performs the registration handshake: a form POST announcing
// this agent to the server's admin endpoint, then a token fetch keyed by
// the agent uuid. The token ends up in State and is attached to the
// websocket dial. Both calls are retried a bounded number of times; an
// exhausted retry budget surfaces as an error for the supervisor to treat
// as fatal (startup) or retry with backoff (re-registration).
type Registrar struct {
	cfg      *Config
	identity *Identity
	state    *State
	client   *http.Client
	log      *zap.Logger

	attempts uint
	delay    time.Duration
}

func NewRegistrar(cfg *Config, identity *Identity, state *State, client *http.Client, logger *zap.Logger) *Registrar {
	return &Registrar{
		cfg:      cfg,
		identity: identity,
		state:    state,
		client:   client,
		log:      logger.With(zap.String("mod", "registration")),
		attempts: registrationAttempts,
		delay:    registrationDelay,
	}
}

// Registered reports whether a token from a prior handshake is still held.
func (r *Registrar) Registered() bool {
	return r.state.Token() != ""
}

// Register runs the handshake and stores the issued token.
func (r *Registrar) Register(ctx context.Context) error {
	if err := r.postRegistration(ctx); err != nil {
		return fmt.Errorf("register agent: %w", err)
	}
	token, err := r.fetchToken(ctx)
	if err != nil {
		return fmt.Errorf("fetch agent token: %w", err)
	}
	r.state.SetToken(token)
	r.log.Info("agent registered", zap.String("uuid", r.identity.Uuid))
	return nil
}

func (r *Registrar) registrationForm() url.Values {
	form := url.Values{}
	form.Set("hostname", r.identity.Hostname)
	form.Set("uuid", r.identity.Uuid)
	form.Set("location", r.cfg.WorkDir)
	form.Set("usablespace", strconv.FormatInt(UsableSpace(r.cfg.WorkDir), 10))
	form.Set("operatingSystem", runtime.GOOS)
	form.Set("agentAutoRegisterKey", r.cfg.AutoRegisterKey)
	form.Set("agentAutoRegisterResources", r.cfg.AutoRegisterResources)
	form.Set("agentAutoRegisterEnvironments", r.cfg.AutoRegisterEnvironments)
	form.Set("agentAutoRegisterHostname", r.identity.Hostname)
	form.Set("elasticAgentId", r.cfg.ElasticAgentId)
	form.Set("elasticPluginId", r.cfg.ElasticPluginId)
	return form
}

func (r *Registrar) postRegistration(ctx context.Context) error {
	regUrl, err := r.cfg.RegistrationUrl()
	if err != nil {
		return err
	}
	form := r.registrationForm().Encode()
	return r.doWithRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, regUrl, strings.NewReader(form))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		resp, err := r.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("registration endpoint returned %v", resp.Status)
		}
		return nil
	})
}

func (r *Registrar) fetchToken(ctx context.Context) (string, error) {
	tokenUrl, err := r.cfg.TokenUrl(r.identity.Uuid)
	if err != nil {
		return "", err
	}
	var token string
	err = r.doWithRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenUrl, nil)
		if err != nil {
			return err
		}
		resp, err := r.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("token endpoint returned %v", resp.Status)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, registrationRespLimit))
		if err != nil {
			return err
		}
		token = strings.TrimSpace(string(body))
		if token == "" {
			return fmt.Errorf("token endpoint returned an empty token")
		}
		return nil
	})
	return token, err
}

func (r *Registrar) doWithRetry(ctx context.Context, fn func() error) error {
	return retry.New(
		retry.Context(ctx),
		retry.Attempts(r.attempts),
		retry.Delay(r.delay),
		retry.OnRetry(func(n uint, err error) {
			r.log.Warn("registration call failed, retrying",
				zap.Uint("attempt", n+1),
				zap.Error(err))
		}),
	).Do(fn)
}
