package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/agora/internal/domain"
)

type mockS3 struct {
	mock.Mock
}

func (m *mockS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*s3.PutObjectOutput)
	return out, args.Error(1)
}

func closedReport(t *testing.T) *domain.Report {
	t.Helper()
	r := domain.NewReport(uuid.New(), "post", "p-1", "spam")
	require.NoError(t, r.Claim(uuid.New()))
	require.NoError(t, r.Resolve(domain.ActionWarning, "first strike"))
	closed := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	r.ClosedAt = &closed
	return r
}

func TestS3Archiver_Archive(t *testing.T) {
	client := &mockS3{}
	a := NewS3Archiver(client, "audit", "agora")
	report := closedReport(t)

	client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return *in.Bucket == "audit" &&
			*in.Key == "agora/reports/2026/03/"+report.ID.String()+".json" &&
			in.Metadata["report-action"] == "warning"
	})).Return(&s3.PutObjectOutput{}, nil).Run(func(args mock.Arguments) {
		in := args.Get(1).(*s3.PutObjectInput)
		body, err := io.ReadAll(in.Body)
		require.NoError(t, err)
		var got domain.Report
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, report.ID, got.ID)
		assert.Equal(t, domain.ReportResolved, got.Status)
	})

	require.NoError(t, a.Archive(context.Background(), report))
	client.AssertExpectations(t)
}

func TestS3Archiver_FailureIsDependencyFailure(t *testing.T) {
	client := &mockS3{}
	client.On("PutObject", mock.Anything, mock.Anything).Return(nil, errors.New("access denied"))

	err := NewS3Archiver(client, "audit", "").Archive(context.Background(), closedReport(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDependencyFailure)
	assert.True(t, strings.Contains(err.Error(), "access denied"))
}

func TestNoop(t *testing.T) {
	assert.NoError(t, Noop{}.Archive(context.Background(), closedReport(t)))
}
