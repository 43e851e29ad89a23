//go:build integration

package app

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/agora/internal/config"
	"github.com/prn-tf/agora/internal/dispatch"
	"github.com/prn-tf/agora/internal/domain"
	"github.com/prn-tf/agora/internal/notify"
	"github.com/prn-tf/agora/internal/service"
	"github.com/prn-tf/agora/internal/testutil/containers"
)

// newDistributedApp wires the core against PostgreSQL with Redis locking and
// Redis notification delivery.
func newDistributedApp(t *testing.T) (*App, *containers.RedisContainer) {
	t.Helper()

	pg := containers.NewPostgresContainer(t)
	rc := containers.NewRedisContainer(t)

	cfg := testConfig(t)
	cfg.Database = config.DatabaseConfig{
		Driver:       config.DriverPostgres,
		Host:         pg.Host,
		Port:         pg.Port,
		User:         "agora",
		Password:     "agora",
		Database:     "agora",
		SSLMode:      "disable",
		MaxOpenConns: 10,
		MaxIdleConns: 2,
	}
	cfg.Redis.Enabled = true
	cfg.Redis.Host = rc.Host
	cfg.Redis.Port = rc.Port
	cfg.Lock.Backend = "redis"
	cfg.Notify.Sink = "redis"

	a, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, rc
}

func TestDistributed_OTPDeliveredOverRedis(t *testing.T) {
	a, rc := newDistributedApp(t)
	ctx := context.Background()

	sub := rc.Client.Subscribe(ctx, a.Config.Notify.Channel)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	user := domain.NewPrincipal(uuid.New(), domain.RoleUser)
	_, err = dispatch.Send[*service.IssueOTPOutput](ctx, a.Dispatcher, user,
		service.IssueOTPInput{Purpose: domain.PurposeLogin})
	require.NoError(t, err)

	var n notify.Notification
	select {
	case msg := <-sub.Channel():
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &n))
	case <-time.After(10 * time.Second):
		t.Fatal("no notification received")
	}
	assert.Equal(t, notify.TypeOTPIssued, n.Type)
	assert.Equal(t, user.UserID, n.RecipientID)

	_, err = a.Dispatcher.Dispatch(ctx, user, service.VerifyOTPInput{
		Purpose: domain.PurposeLogin,
		Code:    n.Payload[notify.PayloadCode],
	})
	require.NoError(t, err)

	_, err = a.Dispatcher.Dispatch(ctx, user, service.VerifyOTPInput{
		Purpose: domain.PurposeLogin,
		Code:    n.Payload[notify.PayloadCode],
	})
	assert.ErrorIs(t, err, domain.ErrOTPAlreadyUsed)
}

func TestDistributed_ConcurrentJoins(t *testing.T) {
	a, _ := newDistributedApp(t)
	ctx := context.Background()

	owner := domain.NewPrincipal(uuid.New(), domain.RoleUser)
	out, err := dispatch.Send[*service.CreateGroupOutput](ctx, a.Dispatcher, owner,
		service.CreateGroupInput{Name: "distributed", Privacy: domain.GroupPublic})
	require.NoError(t, err)

	const joiners = 16
	var wg sync.WaitGroup
	errs := make([]error, joiners)
	for i := range joiners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := domain.NewPrincipal(uuid.New(), domain.RoleUser)
			_, errs[i] = a.Dispatcher.Dispatch(ctx, p, service.JoinGroupInput{GroupID: out.Group.ID})
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}

	members, err := a.Repos.Memberships.ListByGroup(ctx, out.Group.ID, domain.StatusActive)
	require.NoError(t, err)
	assert.Len(t, members, joiners+1)
}
