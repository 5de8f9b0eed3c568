package server

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/TobiSchelling/videodigest/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

// Reader is the read side of a persistence gateway.
type Reader interface {
	GetStats(ctx context.Context) (model.StoreStats, error)
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)
	ListItems(ctx context.Context, runID string, limit int) ([]model.Item, error)
	GetItem(ctx context.Context, videoID string) (model.Item, error)
	GetComments(ctx context.Context, videoID string) ([]model.Comment, error)
	GetKeywordAnalyses(ctx context.Context, runID string) ([]model.KeywordAnalysis, error)
}

// Server is the read-only report server.
type Server struct {
	store  Reader
	pages  map[string]*template.Template
	mux    *http.ServeMux
	logger *slog.Logger
}

// New creates a new Server.
func New(store Reader, logger *slog.Logger) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown":   renderMarkdown,
		"formatTime": formatTime,
		"duration":   formatDuration,
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
	}

	// Parse base template first
	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// For each page template, clone the base and parse the page into the clone.
	// This gives each page its own {{define "content"}} and {{define "title"}}.
	pageNames := []string{"index.html", "run.html", "item.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		_, err = clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{store: store, pages: pages, mux: http.NewServeMux(), logger: logger}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	// Static files
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	// Routes
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/run/", s.handleRun)
	s.mux.HandleFunc("/item/", s.handleItem)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	ctx := r.Context()

	stats, err := s.store.GetStats(ctx)
	if err != nil {
		s.fail(w, "reading stats", err)
		return
	}
	runs, err := s.store.ListRuns(ctx, 20)
	if err != nil {
		s.fail(w, "listing runs", err)
		return
	}
	items, err := s.store.ListItems(ctx, "", 25)
	if err != nil {
		s.fail(w, "listing items", err)
		return
	}

	s.render(w, "index.html", map[string]any{
		"Stats": stats,
		"Runs":  runs,
		"Items": items,
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimPrefix(r.URL.Path, "/run/")
	if runID == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	ctx := r.Context()

	keywords, err := s.store.GetKeywordAnalyses(ctx, runID)
	if err != nil {
		s.fail(w, "reading keyword analyses", err)
		return
	}
	items, err := s.store.ListItems(ctx, runID, 0)
	if err != nil {
		s.fail(w, "listing run items", err)
		return
	}
	if len(keywords) == 0 && len(items) == 0 {
		http.NotFound(w, r)
		return
	}

	s.render(w, "run.html", map[string]any{
		"RunID":    runID,
		"Keywords": keywords,
		"Items":    items,
	})
}

func (s *Server) handleItem(w http.ResponseWriter, r *http.Request) {
	videoID := strings.TrimPrefix(r.URL.Path, "/item/")
	if videoID == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	ctx := r.Context()

	item, err := s.store.GetItem(ctx, videoID)
	if errors.Is(err, model.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.fail(w, "reading item", err)
		return
	}
	comments, err := s.store.GetComments(ctx, videoID)
	if err != nil {
		s.logger.Warn("reading comments failed", slog.String("video_id", videoID), slog.Any("error", err))
	}

	s.render(w, "item.html", map[string]any{
		"Item":     item,
		"Threads":  threads(comments),
		"Comments": len(comments),
	})
}

// Thread is a top-level comment with its replies.
type Thread struct {
	Comment model.Comment
	Replies []model.Comment
}

func threads(comments []model.Comment) []Thread {
	var out []Thread
	index := make(map[string]int)
	var orphans []model.Comment
	for _, c := range comments {
		if c.ParentID == nil {
			index[c.ID] = len(out)
			out = append(out, Thread{Comment: c})
			continue
		}
		if i, ok := index[*c.ParentID]; ok {
			out[i].Replies = append(out[i].Replies, c)
		} else {
			orphans = append(orphans, c)
		}
	}
	for _, c := range orphans {
		out = append(out, Thread{Comment: c})
	}
	return out
}

func (s *Server) fail(w http.ResponseWriter, what string, err error) {
	s.logger.Error(what+" failed", slog.Any("error", err))
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.logger.Error("template not found", slog.String("template", name))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base.html", data); err != nil {
		s.logger.Error("rendering template failed", slog.String("template", name), slog.Any("error", err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func formatDuration(seconds int64) string {
	d := time.Duration(seconds) * time.Second
	if d >= time.Hour {
		return fmt.Sprintf("%d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
	}
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

// Serve starts the HTTP server on the given port and stops when ctx ends.
func Serve(ctx context.Context, store Reader, port int, logger *slog.Logger) error {
	srv, err := New(store, logger)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	httpSrv := &http.Server{Addr: addr, Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("server listening", slog.String("url", "http://"+addr))
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
