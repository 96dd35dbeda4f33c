package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/skillforge/skillforge/pkg/models"
)

// newTestClient connects to a real Postgres instance: an external
// CI_DATABASE_URL if set, otherwise a testcontainers-managed container.
// Mirrors codeready-toolchain-tarsy's test/database.NewTestClient.
func newTestClient(t *testing.T) *Client {
	ctx := context.Background()

	connStr := os.Getenv("CI_DATABASE_URL")
	if connStr == "" {
		container, err := tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase("skillforge_test"),
			tcpostgres.WithUsername("test"),
			tcpostgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		require.NoError(t, err)
		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(container); err != nil {
				t.Logf("failed to terminate container: %v", err)
			}
		})

		connStr, err = container.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	client, err := Connect(ctx, Config{DSN: connStr, MaxConns: 5})
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestUserStore_CreateAndLookup(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	u := &models.User{UserID: "u1", Username: "ada", PasswordHash: "hash", CreatedAt: time.Now().UTC()}
	require.NoError(t, client.Users.Create(ctx, u))

	got, err := client.Users.GetByUsername(ctx, "ada")
	require.NoError(t, err)
	require.Equal(t, u.UserID, got.UserID)

	err = client.Users.Create(ctx, &models.User{UserID: "u2", Username: "ada", CreatedAt: time.Now().UTC()})
	require.Error(t, err)
}

func TestThreadStore_CreateListDelete(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Users.Create(ctx, &models.User{UserID: "u1", Username: "grace", CreatedAt: time.Now().UTC()}))

	for i := 0; i < 3; i++ {
		th := &models.Thread{ThreadID: "u1-" + string(rune('a'+i)), UserID: "u1", CreatedAt: time.Now().UTC()}
		require.NoError(t, client.Threads.Create(ctx, th))
	}

	list, total, err := client.Threads.ListByUser(ctx, "u1", 0, 2)
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, list, 2)

	title := "renamed"
	require.NoError(t, client.Threads.SetTitle(ctx, list[0].ThreadID, title))
	got, err := client.Threads.Get(ctx, list[0].ThreadID)
	require.NoError(t, err)
	require.Equal(t, &title, got.Title)

	require.NoError(t, client.Threads.Delete(ctx, list[0].ThreadID))
	_, err = client.Threads.Get(ctx, list[0].ThreadID)
	require.Error(t, err)
}

func TestSkillStore_RoundTripsJSONColumns(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	score := 4.5
	sk := &models.Skill{
		SkillID:     "s1",
		Name:        "deploy-helper",
		Status:      models.SkillStatusPending,
		SkillPath:   "/skills/pending/s1",
		FormatValid: true,
		Layer1Report: &models.LayerReport{
			Passed:          true,
			TaskEvaluations: []models.TaskEvaluation{{TaskID: "t1", RawScore: 4, CorrectSkillUsed: true}},
		},
		OverallScore:          &score,
		InstalledDependencies: []string{"requests"},
		CreatedBy:             "admin",
		CreatedAt:             time.Now().UTC(),
	}
	require.NoError(t, client.Skills.Create(ctx, sk))

	got, err := client.Skills.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, got.FormatValid)
	require.NotNil(t, got.Layer1Report)
	require.True(t, got.Layer1Report.Passed)
	require.Len(t, got.Layer1Report.TaskEvaluations, 1)
	require.Equal(t, []string{"requests"}, got.InstalledDependencies)

	got.Status = models.SkillStatusApproved
	got.ValidationStg = models.ValidationStageCompleted
	require.NoError(t, client.Skills.Update(ctx, got))

	approved, err := client.Skills.ListApproved(ctx)
	require.NoError(t, err)
	require.Len(t, approved, 1)
}

func TestImageVersionStore_CurrentSwitchesAtomically(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Versions.Create(ctx, &models.ImageVersion{Version: "v1", IsCurrent: true, CreatedAt: time.Now().UTC()}))
	require.NoError(t, client.Versions.Create(ctx, &models.ImageVersion{Version: "v2", CreatedAt: time.Now().UTC()}))

	require.NoError(t, client.Versions.SetCurrent(ctx, "v2"))
	cur, err := client.Versions.Current(ctx)
	require.NoError(t, err)
	require.Equal(t, "v2", cur.Version)
}
