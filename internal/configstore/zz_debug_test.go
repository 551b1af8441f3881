package configstore_test

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/hashicorp/confstore/internal/authz"
	"github.com/hashicorp/confstore/internal/cache"
	"github.com/hashicorp/confstore/internal/configstore"
	"github.com/hashicorp/confstore/internal/coordinate"
	"github.com/hashicorp/confstore/internal/kms"
	"github.com/hashicorp/confstore/internal/testutil"
	"github.com/hashicorp/confstore/internal/types/environment"
	"github.com/hashicorp/confstore/internal/value"
	"github.com/stretchr/testify/require"
)

func TestZZDebugRotation(t *testing.T) {
	ctx := context.Background()
	conn := testutil.TestConn(t)
	kek := testutil.TestKekWrapper(t)
	audit := new(bytes.Buffer)
	svc, err := configstore.NewService(ctx, conn, kek,
		configstore.WithAuditSink(audit),
		configstore.WithSharedCache(cache.NewMemory()),
	)
	require.NoError(t, err)
	require.NoError(t, svc.Start(ctx))
	t.Cleanup(svc.Stop)
	tn, err := svc.CreateTenant(ctx, "u_ops", "acme")
	require.NoError(t, err)
	admin := &authz.Caller{UserId: "u_alice", TenantId: tn.PublicId, Roles: []string{authz.RoleAdmin}}

	secret, err := value.NewPlaintextSecret(ctx, "sk-rotate-me")
	require.NoError(t, err)
	_, err = svc.Write(ctx, admin, tn.PublicId, "app/llm", "production", "api-key", secret)
	require.NoError(t, err)

	c := coordinate.Coordinate{TenantId: tn.PublicId, Namespace: "app/llm", Environment: environment.Production, Key: "api-key"}

	// decrypt v1 envelope with an independent kms over the same conn+kek
	var raw [][]byte
	require.NoError(t, conn.Table("config_versions").Order("version desc").Limit(1).Pluck("data", &raw).Error)
	envlp, err := kms.UnmarshalEncryptedSecret(ctx, raw[0])
	require.NoError(t, err)
	k2, err := kms.NewKms(ctx, conn, kek)
	require.NoError(t, err)
	pt, err := k2.Decrypt(ctx, c, envlp)
	fmt.Println("v1 independent decrypt:", string(pt), err)

	_, err = svc.RotateTenantKeys(ctx, admin, tn.PublicId)
	require.NoError(t, err)

	var jobs []map[string]any
	require.NoError(t, conn.Table("kms_rotation_jobs").Find(&jobs).Error)
	fmt.Println("jobs:", jobs)

	m, err := svc.NewMigrator(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Sweep(ctx))

	raw = nil
	require.NoError(t, conn.Table("config_versions").Order("version desc").Limit(1).Pluck("data", &raw).Error)
	envlp2, err := kms.UnmarshalEncryptedSecret(ctx, raw[0])
	require.NoError(t, err)
	fmt.Println("post-sweep envelope key version:", envlp2.KeyVersionId)

	k3, err := kms.NewKms(ctx, conn, kek)
	require.NoError(t, err)
	pt, err = k3.Decrypt(ctx, c, envlp2)
	fmt.Println("v2 independent decrypt:", string(pt), err)
	for _, env := range []environment.Env{environment.Env(""), environment.Base, environment.Staging, environment.Development} {
		cc := c
		cc.Environment = env
		pt, err = k3.Decrypt(ctx, cc, envlp2)
		fmt.Printf("v2 decrypt with env %q: %q %v\n", env, string(pt), err)
	}

	_, err = svc.Read(ctx, admin, tn.PublicId, "app/llm", "production", "api-key")
	fmt.Println("service read after sweep err:", err)
}
