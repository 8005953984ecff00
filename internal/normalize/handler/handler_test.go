package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"mdnorm/internal/normalize/abbreviation"
	"mdnorm/internal/normalize/canonical"
	"mdnorm/internal/normalize/commit"
	"mdnorm/internal/normalize/matcher"
	"mdnorm/internal/normalize/models"
	"mdnorm/internal/platform/middleware"
	"mdnorm/internal/records"
	memrecords "mdnorm/internal/records/store/memory"
	"mdnorm/pkg/platform/audit"
	auditmem "mdnorm/pkg/platform/audit/store/memory"
	"mdnorm/pkg/platform/middleware/metadata"
	"mdnorm/pkg/testutil"
)

type HandlerSuite struct {
	suite.Suite
	records *memrecords.Store
	audit   *auditmem.InMemoryStore
	router  chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.records = memrecords.New()
	s.records.Seed("influencers",
		records.Row{"id": 1, "state": "MH", "city": "Mumbai"},
		records.Row{"id": 2, "state": "MH", "city": "Pune"},
		records.Row{"id": 3, "state": "Tamilnadu", "city": "Chennai"},
		records.Row{"id": 4, "state": "Delhi/NCR", "city": "Delhi"},
		records.Row{"id": 5, "state": "", "city": "Goa"},
	)
	s.audit = auditmem.NewInMemoryStore(100)

	committer := commit.New(s.records, audit.NewTrail(s.audit), commit.WithLogger(logger))
	h := New([]*matcher.Matcher{
		matcher.New(models.CategoryState,
			canonical.ForCategory(models.CategoryState),
			abbreviation.ForCategory(models.CategoryState),
			matcher.WithLogger(logger)),
	}, committer, s.records, logger)

	r := chi.NewRouter()
	r.Use(middleware.Operators)
	r.Use(metadata.ClientMetadata)
	h.Register(r)
	s.router = r
}

func (s *HandlerSuite) TestMatch() {
	s.Run("abbreviation resolves", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/state/match", map[string]string{"label": "MH"})
		rr := testutil.DoRequest(s.router, req)

		s.Equal(http.StatusOK, rr.Code)
		res := testutil.UnmarshalResponse[models.MatchResult](s.T(), rr)
		s.Equal("Maharashtra", res.CanonicalLabel)
		s.Equal(models.MatchAbbreviation, res.MatchType)
	})

	s.Run("unknown category is not found", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/country/match", map[string]string{"label": "x"})
		rr := testutil.DoRequest(s.router, req)

		s.Equal(http.StatusNotFound, rr.Code)
	})

	s.Run("configured only for state", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/city/match", map[string]string{"label": "Pune"})
		rr := testutil.DoRequest(s.router, req)

		s.Equal(http.StatusNotFound, rr.Code)
	})

	s.Run("unknown fields are rejected", func() {
		req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/v1/state/match", `{"label":"MH","extra":1}`)
		rr := testutil.DoRequest(s.router, req)

		s.Equal(http.StatusBadRequest, rr.Code)
		s.Equal("bad_request", testutil.UnmarshalErrorResponse(s.T(), rr)["error"])
	})
}

func (s *HandlerSuite) TestBatchMatch() {
	s.Run("seeds auto-selected mappings", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/state/match/batch", map[string]any{
			"labels": []string{"MH", "Delhi/NCR", "MH", "  "},
		})
		rr := testutil.DoRequest(s.router, req)

		s.Require().Equal(http.StatusOK, rr.Code)
		res := testutil.UnmarshalResponse[struct {
			Results          []models.MatchResult  `json:"results"`
			AutoSelected     []string              `json:"auto_selected"`
			TotalProcessed   int                   `json:"total_processed"`
			ExcludedCompound int                   `json:"excluded_compound"`
			Mappings         []models.MappingEntry `json:"mappings"`
		}](s.T(), rr)

		s.Equal(2, res.TotalProcessed)
		s.Equal([]string{"MH"}, res.AutoSelected)
		s.Require().Len(res.Mappings, 2)
		s.Equal("MH", res.Mappings[0].RawLabel)
		s.Equal("Maharashtra", res.Mappings[0].ProposedLabel)
		s.True(res.Mappings[0].AutoSelected)
		s.Equal("Delhi/NCR", res.Mappings[1].RawLabel)
		s.False(res.Mappings[1].Mapped())
	})

	s.Run("auto select can be disabled", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/state/match/batch", map[string]any{
			"labels":      []string{"MH"},
			"auto_select": false,
		})
		rr := testutil.DoRequest(s.router, req)

		s.Require().Equal(http.StatusOK, rr.Code)
		res := testutil.UnmarshalResponse[struct {
			AutoSelected []string              `json:"auto_selected"`
			Mappings     []models.MappingEntry `json:"mappings"`
		}](s.T(), rr)
		s.Empty(res.AutoSelected)
		s.Require().Len(res.Mappings, 1)
		s.False(res.Mappings[0].Mapped())
	})

	s.Run("threshold out of range", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/state/match/batch", map[string]any{
			"labels":    []string{"MH"},
			"threshold": 101,
		})
		rr := testutil.DoRequest(s.router, req)

		s.Equal(http.StatusBadRequest, rr.Code)
	})
}

func (s *HandlerSuite) TestCommit() {
	s.Run("requires operator", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/state/commit", map[string]any{
			"mappings": []models.MappingEntry{{RawLabel: "MH", ProposedLabel: "Maharashtra"}},
		})
		rr := testutil.DoRequest(s.router, req)

		s.Equal(http.StatusUnauthorized, rr.Code)
		s.Equal(0, s.audit.Len())
	})

	s.Run("duplicate targets are rejected", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/state/commit", map[string]any{
			"mappings": []models.MappingEntry{
				{RawLabel: "MH", ProposedLabel: "Maharashtra"},
				{RawLabel: "Maha", ProposedLabel: "Maharashtra"},
			},
		})
		req.Header.Set(middleware.HeaderUserID, "ops-1")
		rr := testutil.DoRequest(s.router, req)

		s.Equal(http.StatusBadRequest, rr.Code)
		body := testutil.UnmarshalResponse[validationResponse](s.T(), rr)
		s.Equal("validation_error", body.Error)
		s.Len(body.Errors, 1)
		s.Contains(body.Errors[0], "Maharashtra (2 times)")
	})

	s.Run("applies mapped entries and audits", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/state/commit", map[string]any{
			"mappings": []models.MappingEntry{
				{RawLabel: "MH", ProposedLabel: "Maharashtra", Confidence: 100, AutoSelected: true},
				{RawLabel: "Tamilnadu", ProposedLabel: "Tamil Nadu", Confidence: 95},
				{RawLabel: "Delhi/NCR"},
			},
		})
		req.Header.Set(middleware.HeaderUserID, "ops-1")
		req.Header.Set(middleware.HeaderUserEmail, "ops@example.com")
		req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
		rr := testutil.DoRequest(s.router, req)

		s.Require().Equal(http.StatusOK, rr.Code)
		res := testutil.UnmarshalResponse[commit.Result](s.T(), rr)
		s.True(res.Success)
		s.EqualValues(3, res.TotalUpdated)
		s.Len(res.PerMapping, 2)
		s.NotEmpty(res.AuditID)

		rows, err := s.records.Query(context.Background(), "influencers", records.Filter{"state": "Maharashtra"})
		s.Require().NoError(err)
		s.Len(rows, 2)

		logged, err := s.audit.List(context.Background(), audit.Filter{UserID: "ops-1"})
		s.Require().NoError(err)
		s.Require().Len(logged, 1)
		s.Equal("ops@example.com", logged[0].UserEmail)
		s.Equal(models.CategoryState.ActionType(), logged[0].ActionType)
		s.Len(logged[0].Metadata.Changes, 2)
		s.Equal("192.0.2.1", logged[0].Metadata.Extra["client_ip"])
		s.Equal("desktop", logged[0].Metadata.Extra["client"])
	})
}

func (s *HandlerSuite) TestLabels() {
	req := testutil.NewRequest(s.T(), http.MethodGet, "/v1/state/labels")
	rr := testutil.DoRequest(s.router, req)

	s.Require().Equal(http.StatusOK, rr.Code)
	res := testutil.UnmarshalResponse[labelsResponse](s.T(), rr)
	s.ElementsMatch([]string{"MH", "Tamilnadu"}, res.Labels)
	s.Equal([]string{"Delhi/NCR"}, res.Compound)
}
