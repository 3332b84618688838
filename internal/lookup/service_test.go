package lookup

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"shelfcheck/internal/catalog"
	catalogmocks "shelfcheck/internal/catalog/mocks"
	"shelfcheck/internal/pubsub"
	"shelfcheck/internal/state"
	"shelfcheck/pkg/domain"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []pubsub.LookupCompleted
	err    error
}

func (p *recordingPublisher) PublishResult(_ context.Context, ev pubsub.LookupCompleted) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) published() []pubsub.LookupCompleted {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pubsub.LookupCompleted(nil), p.events...)
}

type ServiceSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	querier   *catalogmocks.MockQuerier
	store     *state.InMemoryStore
	publisher *recordingPublisher
	service   *Service
	now       time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.querier = catalogmocks.NewMockQuerier(s.ctrl)
	s.store = state.NewInMemoryStore()
	s.publisher = &recordingPublisher{}
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	dir := catalog.NewDirectory()
	dir.Register("lib", s.querier)
	s.service = s.newService(dir)
}

func (s *ServiceSuite) TearDownTest() {
	s.Require().NoError(s.service.Close(context.Background()))
}

func (s *ServiceSuite) newService(dir *catalog.Directory) *Service {
	return New(s.store, dir, s.publisher,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return s.now }),
	)
}

func rows(raw ...string) []catalog.Row {
	out := make([]catalog.Row, 0, len(raw))
	for _, r := range raw {
		out = append(out, catalog.Row(r))
	}
	return out
}

func (s *ServiceSuite) TestExecutePersistsThenPublishes() {
	ctx := context.Background()
	key := domain.NewLookupKey("lib", "Alien")
	s.querier.EXPECT().Query(gomock.Any(), "Alien").Return(rows(
		`{"type":"single","full":{"title":"Alien.","format":{"className":"blu-ray"}}}`,
	), nil)

	s.Require().NoError(s.service.Execute(ctx, key))

	tags, ok, err := s.service.Result(ctx, key)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(domain.Tags{domain.TagBluRay}, tags)

	s.Equal([]pubsub.LookupCompleted{{Catalog: "lib", Title: "Alien", Tags: domain.Tags{domain.TagBluRay}}}, s.publisher.published())
	s.Equal(1, s.store.Len())
}

func (s *ServiceSuite) TestExecuteIsANoOpOnceResolved() {
	ctx := context.Background()
	key := domain.NewLookupKey("lib", "Heat")
	s.querier.EXPECT().Query(gomock.Any(), "Heat").Return(nil, nil).Times(1)

	s.Require().NoError(s.service.Execute(ctx, key))
	s.Require().NoError(s.service.Execute(ctx, domain.NewLookupKey("LIB", "heat")))

	tags, ok, err := s.service.Result(ctx, key)
	s.Require().NoError(err)
	s.True(ok)
	s.NotNil(tags)
	s.Empty(tags)
	s.Len(s.publisher.published(), 1)
}

func (s *ServiceSuite) TestConcurrentExecuteQueriesOnce() {
	ctx := context.Background()
	key := domain.NewLookupKey("lib", "Ran")
	s.querier.EXPECT().Query(gomock.Any(), "Ran").
		DoAndReturn(func(context.Context, string) ([]catalog.Row, error) {
			time.Sleep(10 * time.Millisecond)
			return nil, nil
		}).Times(1)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.NoError(s.service.Execute(ctx, key))
		}()
	}
	wg.Wait()
}

func (s *ServiceSuite) TestQueryFailureLeavesResultPending() {
	ctx := context.Background()
	key := domain.NewLookupKey("lib", "Stalker")
	s.querier.EXPECT().Query(gomock.Any(), "Stalker").Return(nil, errors.New("boom"))

	err := s.service.Execute(ctx, key)
	s.Require().Error(err)

	_, ok, err := s.service.Result(ctx, key)
	s.Require().NoError(err)
	s.False(ok)
	s.Empty(s.publisher.published())
	s.Equal(0, s.store.Len())
}

func (s *ServiceSuite) TestUnknownCatalog() {
	err := s.service.Execute(context.Background(), domain.NewLookupKey("elsewhere", "Alien"))
	s.Require().Error(err)
}

func (s *ServiceSuite) TestResultSurvivesReactivation() {
	ctx := context.Background()
	key := domain.NewLookupKey("lib", "Solaris")
	s.querier.EXPECT().Query(gomock.Any(), "Solaris").Return(rows(
		`{"type":"single","full":{"title":"Solaris","format":{"className":"dvd"}}}`,
	), nil)
	s.Require().NoError(s.service.Execute(ctx, key))
	s.Require().NoError(s.service.Close(ctx))

	dir := catalog.NewDirectory()
	dir.Register("lib", s.querier)
	s.service = s.newService(dir)

	tags, ok, err := s.service.Result(ctx, key)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(domain.Tags{domain.TagDVD}, tags)
}

func (s *ServiceSuite) TestPublishFailureIsReturnedAfterPersisting() {
	ctx := context.Background()
	key := domain.NewLookupKey("lib", "Brazil")
	s.publisher.err = errors.New("broker down")
	s.querier.EXPECT().Query(gomock.Any(), "Brazil").Return(nil, nil)

	s.Require().Error(s.service.Execute(ctx, key))

	_, ok, err := s.service.Result(ctx, key)
	s.Require().NoError(err)
	s.True(ok)
}

func TestParseTags(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tests := []struct {
		name  string
		title string
		rows  []catalog.Row
		want  domain.Tags
	}{
		{
			name:  "no rows",
			title: "Alien",
			want:  domain.Tags{},
		},
		{
			name:  "case-insensitive match with subtitle",
			title: "alien: director's cut",
			rows:  rows(`{"type":"single","full":{"title":"Alien","subtitle":"Director's Cut.","format":{"className":"dvd"}}}`),
			want:  domain.Tags{domain.TagDVD},
		},
		{
			name:  "other titles ignored",
			title: "Alien",
			rows:  rows(`{"type":"single","full":{"title":"Aliens","format":{"className":"dvd"}}}`),
			want:  domain.Tags{},
		},
		{
			name:  "grouping contributes children",
			title: "Alien",
			rows: rows(`{"type":"grouping","full":{"title":"Alien","format":{"className":"dvd"}},
				"children":[{"format":{"className":"dvd"}},{"format":{"className":"bluray"}}]}`),
			want: domain.Tags{domain.TagDVD, domain.TagBluRay},
		},
		{
			name:  "malformed and empty rows skipped",
			title: "Alien",
			rows: rows(
				`{"type":"single","full":{"title":7}}`,
				`{"type":"single","full":null}`,
				`{"type":"single","full":{"title":"Alien","format":{"className":"book"}}}`,
				`{"type":"single","full":{"title":"Alien","format":{"className":"bluray"}}}`,
			),
			want: domain.Tags{domain.TagBluRay},
		},
		{
			name:  "duplicates collapse",
			title: "Alien",
			rows: rows(
				`{"type":"single","full":{"title":"Alien","format":{"className":"dvd"}}}`,
				`{"type":"single","full":{"title":"Alien","format":{"className":"dvd"}}}`,
			),
			want: domain.Tags{domain.TagDVD},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseTags(context.Background(), logger, tt.title, tt.rows)
			require.True(t, got.IsResolved())
			assert.Equal(t, tt.want, got)
		})
	}
}
