package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"grievd/internal/domain"
	logx "grievd/pkg/logx"
)

// StoreSuite runs the same contract against every local driver.
type StoreSuite struct {
	suite.Suite
	open  func(t *testing.T) Store
	store Store
	ctx   context.Context
}

func TestMemoryStore(t *testing.T) {
	suite.Run(t, &StoreSuite{open: func(t *testing.T) Store { return NewMemory() }})
}

func TestFileStore(t *testing.T) {
	suite.Run(t, &StoreSuite{open: func(t *testing.T) Store {
		st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "log.db")}, logx.Nop())
		require.NoError(t, err)
		return st
	}})
}

func TestSQLiteStore(t *testing.T) {
	suite.Run(t, &StoreSuite{open: func(t *testing.T) Store {
		st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "log.sqlite")}, logx.Nop())
		require.NoError(t, err)
		return st
	}})
}

func (s *StoreSuite) SetupTest() {
	s.store = s.open(s.T())
	s.ctx = context.Background()
}

func (s *StoreSuite) TearDownTest() {
	s.Require().NoError(s.store.Close())
}

func (s *StoreSuite) appendAttempt(ch domain.Channel, to, subject string, at time.Time) string {
	id, err := s.store.Append(s.ctx, domain.Attempt{
		Channel:       ch,
		Recipient:     to,
		Subject:       subject,
		Body:          "body",
		RelatedEntity: domain.EntityComplaint,
		RelatedID:     "C1",
		CreatedAt:     at,
		Metadata:      map[string]string{domain.MetaTrigger: "status_change"},
	})
	s.Require().NoError(err)
	s.Require().NotEmpty(id)
	return id
}

func (s *StoreSuite) TestAppendAndFinish() {
	id := s.appendAttempt(domain.ChannelEmail, "ana@uni.edu", "Complaint Update: Wifi", time.Now())

	got, err := s.store.Get(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(domain.AttemptPending, got.Status)
	s.Equal("C1", got.RelatedID)

	s.Require().NoError(s.store.UpdateStatus(s.ctx, id, domain.AttemptSent, "", map[string]string{domain.MetaProviderRef: "re_123"}))

	got, err = s.store.Get(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(domain.AttemptSent, got.Status)
	s.Equal("re_123", got.Metadata[domain.MetaProviderRef])
	s.Equal("status_change", got.Metadata[domain.MetaTrigger])
}

func (s *StoreSuite) TestTransitionsHappenOnce() {
	id := s.appendAttempt(domain.ChannelSMS, "+15551234567", "", time.Now())
	s.Require().NoError(s.store.UpdateStatus(s.ctx, id, domain.AttemptFailed, "provider returned 500", nil))

	err := s.store.UpdateStatus(s.ctx, id, domain.AttemptSent, "", nil)
	s.ErrorIs(err, domain.ErrInvalidState)

	got, err := s.store.Get(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(domain.AttemptFailed, got.Status)
	s.Equal("provider returned 500", got.ErrorMessage)

	s.ErrorIs(s.store.UpdateStatus(s.ctx, "missing", domain.AttemptSent, "", nil), domain.ErrNotFound)
	_, err = s.store.Get(s.ctx, "missing")
	s.ErrorIs(err, domain.ErrNotFound)
}

func (s *StoreSuite) TestRejectsInvalidAppendAndTarget() {
	_, err := s.store.Append(s.ctx, domain.Attempt{Channel: domain.ChannelEmail, Recipient: "x@y.z", Status: domain.AttemptSent})
	s.ErrorIs(err, domain.ErrInvalidState)

	_, err = s.store.Append(s.ctx, domain.Attempt{Channel: domain.ChannelEmail})
	s.ErrorIs(err, domain.ErrValidation)

	id := s.appendAttempt(domain.ChannelPush, "s1", "", time.Now())
	s.ErrorIs(s.store.UpdateStatus(s.ctx, id, domain.AttemptPending, "", nil), domain.ErrInvalidState)
}

func (s *StoreSuite) TestQueryFiltersNewestFirst() {
	base := time.Now().Add(-time.Hour)
	oldest := s.appendAttempt(domain.ChannelEmail, "ana@uni.edu", "Complaint Update: Wifi", base)
	middle := s.appendAttempt(domain.ChannelSMS, "+15551234567", "", base.Add(time.Minute))
	newest := s.appendAttempt(domain.ChannelEmail, "bo@uni.edu", "📢 Exams", base.Add(2*time.Minute))
	s.Require().NoError(s.store.UpdateStatus(s.ctx, middle, domain.AttemptFailed, "timeout", nil))

	all, err := s.store.Query(s.ctx, Filter{})
	s.Require().NoError(err)
	s.Require().Len(all, 3)
	s.Equal([]string{newest, middle, oldest}, []string{all[0].ID, all[1].ID, all[2].ID})

	emails, err := s.store.Query(s.ctx, Filter{Channel: domain.ChannelEmail})
	s.Require().NoError(err)
	s.Len(emails, 2)

	failed, err := s.store.Query(s.ctx, Filter{Status: domain.AttemptFailed})
	s.Require().NoError(err)
	s.Require().Len(failed, 1)
	s.Equal(middle, failed[0].ID)

	byRecipient, err := s.store.Query(s.ctx, Filter{RecipientContains: "ANA@"})
	s.Require().NoError(err)
	s.Require().Len(byRecipient, 1)
	s.Equal(oldest, byRecipient[0].ID)

	bySubject, err := s.store.Query(s.ctx, Filter{RecipientContains: "exams"})
	s.Require().NoError(err)
	s.Require().Len(bySubject, 1)
	s.Equal(newest, bySubject[0].ID)

	older, err := s.store.Query(s.ctx, Filter{CreatedBefore: base.Add(30 * time.Second)})
	s.Require().NoError(err)
	s.Require().Len(older, 1)
	s.Equal(oldest, older[0].ID)

	limited, err := s.store.Query(s.ctx, Filter{Limit: 1})
	s.Require().NoError(err)
	s.Len(limited, 1)
}

func (s *StoreSuite) TestStats() {
	a := s.appendAttempt(domain.ChannelEmail, "ana@uni.edu", "", time.Now())
	b := s.appendAttempt(domain.ChannelSMS, "+15551234567", "", time.Now())
	s.appendAttempt(domain.ChannelEmail, "bo@uni.edu", "", time.Now())
	s.Require().NoError(s.store.UpdateStatus(s.ctx, a, domain.AttemptSent, "", nil))
	s.Require().NoError(s.store.UpdateStatus(s.ctx, b, domain.AttemptFailed, "boom", nil))

	st, err := s.store.Stats(s.ctx)
	s.Require().NoError(err)
	s.Equal(3, st.Total)
	s.Equal(1, st.Sent)
	s.Equal(1, st.Failed)
	s.Equal(1, st.Pending)
	s.Equal(2, st.ByChannel[domain.ChannelEmail])
	s.Equal(1, st.ByChannel[domain.ChannelSMS])
}

func TestFileStoreReplaysJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.db")
	ctx := context.Background()

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	id, err := st.Append(ctx, domain.Attempt{Channel: domain.ChannelEmail, Recipient: "ana@uni.edu", Body: "b"})
	require.NoError(t, err)
	require.NoError(t, st.UpdateStatus(ctx, id, domain.AttemptFailed, "provider down", nil))
	require.NoError(t, st.Close())

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	got, err := st.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.AttemptFailed, got.Status)
	require.Equal(t, "provider down", got.ErrorMessage)
}

func TestFileStoreCompaction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.db")
	ctx := context.Background()

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	st.(*fileStore).compactEvery = 3
	for i := 0; i < 5; i++ {
		_, err := st.Append(ctx, domain.Attempt{Channel: domain.ChannelPush, Recipient: "s1", Body: "b"})
		require.NoError(t, err)
	}
	require.NoError(t, st.Close())

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, stats.Total)
}

func TestPostgresWhereClause(t *testing.T) {
	where, args := postgresDialect.where(Filter{Channel: domain.ChannelEmail, Status: domain.AttemptFailed, RecipientContains: "50%"}, nil)
	require.Equal(t, " WHERE channel = $1 AND status = $2 AND (recipient ILIKE $3 ESCAPE '\\' OR COALESCE(subject, '') ILIKE $4 ESCAPE '\\')", where)
	require.Equal(t, []any{"email", "failed", `%50\%%`, `%50\%%`}, args)

	where, args = sqliteDialect.where(Filter{}, nil)
	require.Empty(t, where)
	require.Empty(t, args)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "mongo"}, logx.Nop())
	require.Error(t, err)
}
