package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Capabilities checked by the privileged ledger operations.
const (
	CapabilityVerifier    = "verifier"
	CapabilityConfigAdmin = "config_admin"
)

// AccessControl answers whether an actor holds a capability. Roles live with
// the implementation; the ledger never stores them.
type AccessControl interface {
	HasCapability(ctx context.Context, actor, capability string) (bool, error)
}

// StaticAccessControl is a fixed capability -> actors table, normally loaded
// from comma separated env lists.
type StaticAccessControl struct {
	grants map[string]map[string]struct{}
}

func NewStaticAccessControl(grants map[string][]string) *StaticAccessControl {
	ac := &StaticAccessControl{grants: make(map[string]map[string]struct{}, len(grants))}
	for capability, actors := range grants {
		set := make(map[string]struct{}, len(actors))
		for _, a := range actors {
			if a = strings.TrimSpace(a); a != "" {
				set[a] = struct{}{}
			}
		}
		ac.grants[capability] = set
	}
	return ac
}

func (a *StaticAccessControl) HasCapability(_ context.Context, actor, capability string) (bool, error) {
	_, ok := a.grants[capability][actor]
	return ok, nil
}

// RedisAccessControl checks membership of actor in the set capability:<name>.
type RedisAccessControl struct {
	Client redis.Cmdable
	Prefix string
}

func NewRedisAccessControl(client redis.Cmdable) *RedisAccessControl {
	return &RedisAccessControl{Client: client, Prefix: "capability:"}
}

func (a *RedisAccessControl) key(capability string) string {
	return a.Prefix + capability
}

func (a *RedisAccessControl) HasCapability(ctx context.Context, actor, capability string) (bool, error) {
	ok, err := a.Client.SIsMember(ctx, a.key(capability), actor).Result()
	if err != nil {
		return false, fmt.Errorf("capability lookup %s for %s: %w", capability, actor, err)
	}
	return ok, nil
}

// Grant adds actor to a capability set. Used by bootstrap and tests.
func (a *RedisAccessControl) Grant(ctx context.Context, capability string, actors ...string) error {
	if len(actors) == 0 {
		return nil
	}
	members := make([]interface{}, len(actors))
	for i, actor := range actors {
		members[i] = actor
	}
	if err := a.Client.SAdd(ctx, a.key(capability), members...).Err(); err != nil {
		return fmt.Errorf("grant %s: %w", capability, err)
	}
	return nil
}
