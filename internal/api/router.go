package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/rssa-lab/rssa-server/internal/middleware"
	"github.com/rssa-lab/rssa-server/internal/services"
)

// Server bundles the services behind the HTTP surface.
type Server struct {
	studies      *services.StudyService
	steps        *services.StepService
	pages        *services.PageService
	constructs   *services.ConstructService
	responses    *services.ResponseService
	participants *services.ParticipantService
	users        *services.UserService
	recommender  *services.RecommenderService
	auth         *middleware.Authenticator
	validate     *validator.Validate
}

type Options struct {
	Studies      *services.StudyService
	Steps        *services.StepService
	Pages        *services.PageService
	Constructs   *services.ConstructService
	Responses    *services.ResponseService
	Participants *services.ParticipantService
	Users        *services.UserService
	Recommender  *services.RecommenderService
	Auth         *middleware.Authenticator

	AllowedOrigins  []string
	SubmitRateLimit int
	Logger          zerolog.Logger
	Registry        *prometheus.Registry
}

func NewServer(opts Options) *Server {
	return &Server{
		studies:      opts.Studies,
		steps:        opts.Steps,
		pages:        opts.Pages,
		constructs:   opts.Constructs,
		responses:    opts.Responses,
		participants: opts.Participants,
		users:        opts.Users,
		recommender:  opts.Recommender,
		auth:         opts.Auth,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Routes assembles the full middleware stack and route tree.
func (s *Server) Routes(opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(opts.Logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecureHeaders)
	if opts.Registry != nil {
		r.Use(middleware.NewRequestMetrics(opts.Registry).Handler)
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(s.auth.WithAuth)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{}))
	}

	submitLimit := opts.SubmitRateLimit
	if submitLimit <= 0 {
		submitLimit = 120
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)

		// Participant-facing routes carry no user session; they authenticate
		// with a study API key and are rate limited.
		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(submitLimit, time.Minute))
			r.Use(s.requireStudyKey)

			r.Post("/studies/{studyID}/participants", s.handleEnroll)
			r.Post("/participants/{participantID}/session", s.handleStartSession)
			r.Post("/session/resume", s.handleResume)
			r.Delete("/session/{code}", s.handleEndSession)
			r.Put("/participants/{participantID}/position", s.handleAdvance)

			r.Get("/studies/{studyID}/steps/first", s.handleFirstStep)
			r.Get("/steps/{stepID}/next", s.handleNextStep)
			r.Get("/steps/{stepID}/nav", s.handleStepNav)
			r.Get("/steps/{stepID}/pages/first", s.handleFirstPage)
			r.Get("/pages/{pageID}/next", s.handleNextPage)
			r.Get("/pages/{pageID}/contents", s.handleListContents)
			r.Get("/constructs/{constructID}", s.handleGetConstruct)
			r.Get("/scales/{scaleID}", s.handleGetScale)

			r.Post("/responses/{kind}", s.handleCreateResponse)
			r.Patch("/responses/{kind}/{responseID}", s.handleUpdateResponse)
			r.Get("/participants/{participantID}/responses/{kind}", s.handleListResponses)

			r.Get("/recommendations/{strategy}", s.handleRecommend)
			r.Get("/movies/{movieID}", s.handleGetMovie)
			r.Get("/movies", s.handleListMovies)
		})

		// Administration requires a signed-in user.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth)

			r.Post("/studies", s.handleCreateStudy)
			r.Get("/studies", s.handleListStudies)
			r.Get("/studies/{studyID}", s.handleGetStudy)
			r.Put("/studies/{studyID}", s.handleUpdateStudy)

			r.Post("/studies/{studyID}/conditions", s.handleCreateCondition)
			r.Get("/studies/{studyID}/conditions", s.handleListConditions)

			r.Post("/studies/{studyID}/steps", s.handleCreateStep)
			r.Get("/studies/{studyID}/steps", s.handleListSteps)
			r.Get("/steps/{stepID}", s.handleGetStep)
			r.Put("/studies/{studyID}/steps/order", s.handleReorderSteps)

			r.Post("/steps/{stepID}/pages", s.handleCreatePage)
			r.Get("/steps/{stepID}/pages", s.handleListPages)
			r.Put("/steps/{stepID}/pages/order", s.handleReorderPages)
			r.Post("/pages/{pageID}/contents", s.handleAttachContent)

			r.Post("/constructs", s.handleCreateConstruct)
			r.Get("/constructs", s.handleListConstructs)
			r.Put("/constructs/{constructID}", s.handleUpdateConstruct)
			r.Post("/constructs/{constructID}/items", s.handleCreateItem)
			r.Put("/constructs/{constructID}/items/order", s.handleReorderItems)

			r.Post("/scales", s.handleCreateScale)
			r.Get("/scales", s.handleListScales)
			r.Post("/scales/{scaleID}/levels", s.handleCreateScaleLevel)
			r.Put("/scales/{scaleID}/levels/order", s.handleReorderScaleLevels)

			r.Get("/studies/{studyID}/participants", s.handleListParticipants)

			// Destructive operations, key management, and bulk imports are
			// reserved for admin accounts.
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin)

				r.Delete("/studies/{studyID}", s.handleDeleteStudy)
				r.Delete("/conditions/{conditionID}", s.handleDeleteCondition)
				r.Delete("/steps/{stepID}", s.handleDeleteStep)
				r.Delete("/pages/{pageID}", s.handleDeletePage)
				r.Delete("/contents/{contentID}", s.handleDetachContent)
				r.Delete("/constructs/{constructID}", s.handleDeleteConstruct)
				r.Delete("/items/{itemID}", s.handleDeleteItem)
				r.Delete("/scales/{scaleID}", s.handleDeleteScale)
				r.Delete("/levels/{levelID}", s.handleDeleteScaleLevel)

				r.Post("/studies/{studyID}/keys", s.handleCreateAPIKey)
				r.Get("/studies/{studyID}/keys", s.handleListAPIKeys)
				r.Delete("/keys/{keyID}", s.handleDisableAPIKey)

				r.Post("/movies/import", s.handleImportMovies)
			})
		})
	})

	return r
}
