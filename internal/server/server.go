package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"stepline/internal/domain"
	"stepline/internal/engine"
	"stepline/internal/repo"
	"stepline/internal/workspace"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"dependency_not_ready"`
	Message string         `json:"message" example:"step planning requires completed analysis, architecture"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"missing\":[\"analysis\"]}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Stepline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	basePath = strings.TrimRight(basePath, "/")
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// request validation failures are client errors, not workflow state
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			msgs := make([]string, 0, len(errs))
			for _, err := range errs {
				msgs = append(msgs, err.Error())
			}
			details = map[string]any{"errors": msgs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Stepline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerProjects(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerAgents(group, cfg.Engine)
	registerArchive(group, cfg.Engine)
	registerFiles(group, cfg.Engine)
	registerWorkspaces(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var (
		depErr        *engine.DependencyNotReadyError
		runningErr    *engine.AlreadyRunningError
		downstreamErr *engine.DownstreamStartedError
		archivedErr   *engine.AlreadyArchivedError
		incompleteErr *engine.IncompleteWorkflowError
		invalidErr    *engine.InvalidStepError
		genErr        *engine.GenerationError
		timeoutErr    *engine.GenerationTimeoutError
		ioErr         *workspace.FileIOError
	)
	msg := err.Error()
	switch {
	case errors.As(err, &depErr):
		return newAPIError(http.StatusConflict, "dependency_not_ready", msg, map[string]any{"step": depErr.Step, "missing": depErr.Missing})
	case errors.As(err, &runningErr):
		return newAPIError(http.StatusConflict, "already_running", msg, map[string]any{"step": runningErr.Step})
	case errors.As(err, &downstreamErr):
		return newAPIError(http.StatusConflict, "downstream_started", msg, map[string]any{"step": downstreamErr.Step, "later": downstreamErr.Later})
	case errors.As(err, &archivedErr):
		return newAPIError(http.StatusConflict, "already_archived", msg, map[string]any{"project_id": archivedErr.ProjectID})
	case errors.As(err, &incompleteErr):
		return newAPIError(http.StatusUnprocessableEntity, "incomplete_workflow", msg, map[string]any{"pending": incompleteErr.Pending})
	case errors.As(err, &invalidErr):
		return newAPIError(http.StatusBadRequest, "invalid_step", msg, map[string]any{"step": invalidErr.Value})
	case errors.As(err, &timeoutErr):
		return newAPIError(http.StatusGatewayTimeout, "generation_timeout", msg, map[string]any{"attempts": timeoutErr.Attempts})
	case errors.As(err, &genErr):
		return newAPIError(http.StatusBadGateway, "generation_failed", msg, nil)
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, workspace.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, workspace.ErrOutsideRoot):
		return newAPIError(http.StatusForbidden, "outside_workspace", msg, nil)
	case errors.As(err, &ioErr):
		return newAPIError(http.StatusInternalServerError, "file_io_error", msg, map[string]any{"op": ioErr.Op, "path": ioErr.Path})
	}
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Stepline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      When the server has a JWT secret, authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		p, err := e.CreateProject(ctx, engine.CreateProjectOptions{
			Name:        input.Body.Name,
			Description: input.Body.Description,
			Prompt:      input.Body.Prompt,
			ActorID:     actorIDFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: mapProjects(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Type      string `query:"type"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.LatestEvents(ctx, normalizeLimit(input.Limit), input.ProjectID, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]EventResponse, 0, len(items))
		for _, evt := range items {
			res = append(res, eventResponse(evt))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerAgents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "run-step",
		Method:        http.MethodPost,
		Path:          "/agents/{step_name}",
		Summary:       "Start a pipeline step",
		Description:   "Submits the step to the generation service and returns immediately. Poll the project for completion.",
		DefaultStatus: http.StatusAccepted,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		StepName string         `path:"step_name" doc:"analysis, architecture (or architect), planning, optimization"`
		Body     RunStepRequest `json:"body"`
	}) (*struct {
		Body StepHandleResponse `json:"body"`
	}, error) {
		step, err := engine.ParseStep(input.StepName)
		if err != nil {
			return nil, handleError(err)
		}
		h, err := e.RunStep(ctx, input.Body.ProjectID, step, actorIDFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StepHandleResponse `json:"body"`
		}{Body: StepHandleResponse(h)}, nil
	})
}

func registerArchive(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "archive-project",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/archive",
		Summary:     "Archive a completed project",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ArchiveResponse `json:"body"`
	}, error) {
		res, err := e.Archive(ctx, input.ProjectID, actorIDFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ArchiveResponse `json:"body"`
		}{Body: ArchiveResponse(res)}, nil
	})
}

func registerFiles(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "read-file",
		Method:      http.MethodPost,
		Path:        "/files/read",
		Summary:     "Read a workspace or archive file",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body ReadFileRequest `json:"body"`
	}) (*struct {
		Body workspace.FileInfo `json:"body"`
	}, error) {
		info, err := e.ReadFile(input.Body.FilePath)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body workspace.FileInfo `json:"body"`
		}{Body: info}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "write-file",
		Method:      http.MethodPost,
		Path:        "/files/write",
		Summary:     "Write a workspace file",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body WriteFileRequest `json:"body"`
	}) (*struct {
		Body WriteFileResponse `json:"body"`
	}, error) {
		full, err := e.WriteFile(ctx, input.Body.FilePath, input.Body.Content)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WriteFileResponse `json:"body"`
		}{Body: WriteFileResponse{Path: full}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-files",
		Method:      http.MethodPost,
		Path:        "/files/list",
		Summary:     "List a workspace or archive directory",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body ListFilesRequest `json:"body"`
	}) (*struct {
		Body []workspace.FileEntry `json:"body"`
	}, error) {
		entries, err := e.ListFiles(input.Body.DirectoryPath)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []workspace.FileEntry `json:"body"`
		}{Body: entries}, nil
	})
}

func registerWorkspaces(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-project-workspace",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/workspace",
		Summary:     "Get project workspace info",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body domain.WorkspaceInfo `json:"body"`
	}, error) {
		info, err := e.WorkspaceInfo(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkspaceInfo `json:"body"`
		}{Body: info}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "scan-workspaces",
		Method:      http.MethodGet,
		Path:        "/workspace/projects",
		Summary:     "Scan the workspace root for project directories",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.WorkspaceCandidate `json:"body"`
	}, error) {
		items, err := e.ScanWorkspaces(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.WorkspaceCandidate `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "import-workspaces",
		Method:      http.MethodPost,
		Path:        "/workspace/import",
		Summary:     "Register unowned workspace directories as projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		items, err := e.ImportWorkspaces(ctx, actorIDFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: mapProjects(items)}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
