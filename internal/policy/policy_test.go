package policy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrconnect/authz/internal/config"
	"github.com/ehrconnect/authz/pkg/domain/permission"
	"github.com/ehrconnect/authz/pkg/domain/scope"
	"github.com/ehrconnect/authz/pkg/domain/shared"
)

func TestEmbeddedDocument(t *testing.T) {
	doc, err := EmbeddedSource{}.Load(context.Background())
	require.NoError(t, err)

	roles, err := doc.SystemRoles()
	require.NoError(t, err)
	require.Len(t, roles, 11)

	byKey := map[string]scope.Level{}
	for _, r := range roles {
		assert.True(t, r.IsSystem())
		byKey[r.Key()] = r.ScopeLevel()
	}
	assert.Equal(t, scope.LevelPlatform, byKey["platform_admin"])
	assert.Equal(t, scope.LevelLocation, byKey["nurse"])

	assert.Equal(t, []permission.Permission{"staff:read", "staff:create", "staff:edit"}, doc.Features["staff.manage"])
	assert.NotEmpty(t, doc.Hash)
}

func TestParse_Rejects(t *testing.T) {
	_, err := Parse([]byte("roles: [\n"))
	assert.Error(t, err)

	_, err = Parse([]byte(`
roles:
  - key: broken
    name: Broken
    scope_level: ORG
    permissions: ["patients"]
`))
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = Parse([]byte(`
features:
  x.y: ["nope"]
`))
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("features:\n  audit.view: [\"audit:read\"]\n"), 0o600))

	doc, err := FileSource{Path: path}.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, doc.Features.Declared("audit.view"))

	_, err = FileSource{Path: filepath.Join(t.TempDir(), "missing.yaml")}.Load(context.Background())
	assert.Error(t, err)
}

type fakeS3 struct {
	body []byte
	err  error
	in   *s3.GetObjectInput
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(f.body))}, nil
}

func TestS3Source(t *testing.T) {
	client := &fakeS3{body: defaultDocument}
	doc, err := NewS3SourceWithClient(client, "policies", "prod/policy.yaml").Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "policies", aws.ToString(client.in.Bucket))
	assert.Equal(t, "prod/policy.yaml", aws.ToString(client.in.Key))
	assert.Len(t, doc.Roles, 11)

	_, err = NewS3SourceWithClient(&fakeS3{err: errors.New("denied")}, "b", "k").Load(context.Background())
	assert.ErrorContains(t, err, "denied")
}

func commitPolicy(t *testing.T, repo *git.Repository, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "policy.yaml"), []byte(content), 0o600))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("policy.yaml")
	require.NoError(t, err)
	_, err = wt.Commit("update policy", &git.CommitOptions{
		Author: &object.Signature{Name: "compliance", Email: "compliance@example.org", When: time.Now()},
	})
	require.NoError(t, err)
}

func TestGitSource(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	commitPolicy(t, repo, dir, "features:\n  audit.view: [\"audit:read\"]\n")

	src := NewGitSource(config.PolicyConfig{GitURL: dir})
	doc, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, doc.Features.Declared("audit.view"))
	assert.False(t, doc.Features.Declared("billing.view"))

	commitPolicy(t, repo, dir, "features:\n  audit.view: [\"audit:read\"]\n  billing.view: [\"billing:read\"]\n")
	next, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, next.Features.Declared("billing.view"))
	assert.NotEqual(t, doc.Hash, next.Hash)

	_, err = NewGitSource(config.PolicyConfig{GitURL: dir, GitPath: "missing.yaml"}).Load(context.Background())
	assert.Error(t, err)
}

func TestNewSource(t *testing.T) {
	src, err := NewSource(context.Background(), config.PolicyConfig{Source: config.PolicySourceFile, Path: "/tmp/p.yaml"})
	require.NoError(t, err)
	assert.IsType(t, FileSource{}, src)

	src, err = NewSource(context.Background(), config.PolicyConfig{Source: config.PolicySourceGit, GitURL: "https://git.example.org/policy.git"})
	require.NoError(t, err)
	assert.IsType(t, &GitSource{}, src)

	src, err = NewSource(context.Background(), config.PolicyConfig{Source: config.PolicySourceEmbedded})
	require.NoError(t, err)
	assert.IsType(t, EmbeddedSource{}, src)
}
