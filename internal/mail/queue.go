// queue.go
//
// Redis-backed async mail queue. QueuedMailer implements Mailer and enqueues
// jobs instead of sending synchronously; StartWorker drains the queue in a
// background goroutine and hands each job to the inner Mailer (SMTPMailer).
// Tokens are sealed with XChaCha20-Poly1305 before they touch Redis.
package mail

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MGallo-Code/murmur/internal/metrics"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/chacha20poly1305"
)

// QueueKey is the Redis list used as the outbound mail queue.
const QueueKey = "murmur:mail:queue"

// DefaultMaxQueueSize is the cap applied when MAIL_QUEUE_MAX is unset.
// Prevents unbounded growth when the SMTP server is down. 0 = unlimited.
const DefaultMaxQueueSize int64 = 1000

// ErrQueueFull is returned by enqueue when the queue has reached its size cap.
var ErrQueueFull = errors.New("mail queue full")

// job type constants identify which send method to invoke on dispatch.
const (
	jobAccountActivation = "account_activation"
	jobPasswordReset     = "password_reset"
)

// EmailJob is the serialized payload pushed onto the queue.
// Token holds the sealed token, never the plaintext.
type EmailJob struct {
	Type      string            `json:"type"`
	ToEmail   string            `json:"to_email"`
	Token     []byte            `json:"token"`
	ExpiresIn int64             `json:"expires_in"` // nanoseconds; cast to time.Duration on dispatch
	Vars      map[string]string `json:"vars"`
}

// QueuedMailer enqueues email jobs to Redis so the HTTP handler returns
// immediately without waiting for SMTP. Implements Mailer.
type QueuedMailer struct {
	inner        Mailer
	rdb          *redis.Client
	key          []byte
	maxQueueSize int64 // 0 = unlimited
}

// NewQueuedMailer wraps inner with a Redis-backed async queue.
// key is a 32-byte secret sealing tokens at rest in Redis.
func NewQueuedMailer(inner Mailer, rdb *redis.Client, key []byte, maxSize int64) (*QueuedMailer, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("mail queue key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return &QueuedMailer{inner: inner, rdb: rdb, key: key, maxQueueSize: maxSize}, nil
}

// enqueueScript atomically checks the queue length and pushes the job only if
// under the cap. Returns 1 if enqueued, 0 if rejected (queue full).
// KEYS[1] = queue key, ARGV[1] = max size (0 = skip check), ARGV[2] = payload.
var enqueueScript = redis.NewScript(`
local max = tonumber(ARGV[1])
if max > 0 and redis.call('LLEN', KEYS[1]) >= max then
    return 0
end
redis.call('RPUSH', KEYS[1], ARGV[2])
return 1
`)

// SendAccountActivation enqueues an activation email job.
func (q *QueuedMailer) SendAccountActivation(ctx context.Context, toEmail, token string, vars map[string]string) error {
	return q.enqueue(ctx, jobAccountActivation, toEmail, token, 0, vars)
}

// SendPasswordReset enqueues a password reset email job.
func (q *QueuedMailer) SendPasswordReset(ctx context.Context, toEmail, token string, expiresIn time.Duration, vars map[string]string) error {
	return q.enqueue(ctx, jobPasswordReset, toEmail, token, expiresIn, vars)
}

// enqueue seals the token, serializes the job, and appends it to the Redis queue.
// Returns ErrQueueFull if the queue has reached maxQueueSize.
func (q *QueuedMailer) enqueue(ctx context.Context, jobType, toEmail, token string, expiresIn time.Duration, vars map[string]string) error {
	sealed, err := encryptToken(q.key, []byte(token))
	if err != nil {
		return fmt.Errorf("sealing token: %w", err)
	}
	data, err := json.Marshal(EmailJob{
		Type:      jobType,
		ToEmail:   toEmail,
		Token:     sealed,
		ExpiresIn: int64(expiresIn),
		Vars:      vars,
	})
	if err != nil {
		return fmt.Errorf("marshaling email job: %w", err)
	}
	ok, err := enqueueScript.Run(ctx, q.rdb, []string{QueueKey}, q.maxQueueSize, data).Int64()
	if err != nil {
		return fmt.Errorf("enqueuing email job: %w", err)
	}
	if ok == 0 {
		metrics.MailJobs.WithLabelValues(jobType, "dropped").Inc()
		return ErrQueueFull
	}
	metrics.MailJobs.WithLabelValues(jobType, "enqueued").Inc()
	return nil
}

// StartWorker drains the mail queue in a loop, dispatching each job to inner.
// Blocks until ctx is cancelled (server shutdown). Call in a goroutine.
func (q *QueuedMailer) StartWorker(ctx context.Context) {
	for {
		// BLPop blocks up to 2s then returns redis.Nil -- keeps the loop
		// responsive to ctx cancellation without busy-spinning.
		res, err := q.rdb.BLPop(ctx, 2*time.Second, QueueKey).Result()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			slog.Error("mail worker: queue pop failed", "err", err)
			// Back off so a Redis outage doesn't spin the loop.
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		// res[0] = key name, res[1] = payload
		var job EmailJob
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			slog.Error("mail worker: bad job payload", "err", err)
			continue
		}
		q.dispatch(ctx, job)
	}
}

// dispatch opens the token and calls the matching inner Mailer method.
// Errors are logged and dropped -- delivery failures never reach the requester.
func (q *QueuedMailer) dispatch(ctx context.Context, job EmailJob) {
	token, err := decryptToken(q.key, job.Token)
	if err != nil {
		slog.Error("mail worker: cannot open token", "type", job.Type, "err", err)
		metrics.MailJobs.WithLabelValues(job.Type, "failed").Inc()
		return
	}

	switch job.Type {
	case jobAccountActivation:
		err = q.inner.SendAccountActivation(ctx, job.ToEmail, string(token), job.Vars)
	case jobPasswordReset:
		err = q.inner.SendPasswordReset(ctx, job.ToEmail, string(token), time.Duration(job.ExpiresIn), job.Vars)
	default:
		slog.Error("mail worker: unknown job type", "type", job.Type)
		return
	}
	if err != nil {
		slog.Error("mail worker: send failed", "type", job.Type, "to", job.ToEmail, "err", err)
		metrics.MailJobs.WithLabelValues(job.Type, "failed").Inc()
		return
	}
	metrics.MailJobs.WithLabelValues(job.Type, "sent").Inc()
}

// encryptToken seals plaintext as nonce || ciphertext.
func encryptToken(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// decryptToken opens a value produced by encryptToken.
func decryptToken(key, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, errors.New("sealed token too short")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	return aead.Open(nil, nonce, ciphertext, nil)
}
