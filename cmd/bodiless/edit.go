package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bodiless/contentsync/internal/backendclient"
	"github.com/bodiless/contentsync/internal/config"
	"github.com/bodiless/contentsync/internal/content"
	"github.com/bodiless/contentsync/internal/defaultcontent"
)

const sitePrefix = "site:"

func newEditCmd() *cobra.Command {
	var page, backendURL string
	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Edit the content of one page against a running backend",
		Long: `edit opens a line-oriented session on one page. Node paths join
segments with "$" and address the page unless prefixed with "site:".

  get <path> [jsonpath]   print node data, optionally one field
  set <path> <json>       replace node data
  delete <path>           delete a node
  keys                    list loaded item keys
  pending                 list unsaved items
  notifications           list save errors
  flush                   save every unsaved item now
  sync                    fetch the page snapshot now
  new-page <path> [tpl]   create a page from a template
  quit                    leave the session`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("backend-url") {
				cfg.Editor.BackendURL = backendURL
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runEdit(ctx, cfg.Editor, page, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&page, "page", "/", "page path to edit")
	cmd.Flags().StringVar(&backendURL, "backend-url", "", "backend base URL (BODILESS_BACKEND_URL)")
	return cmd
}

func runEdit(ctx context.Context, cfg config.EditorConfig, page string, in io.Reader, out io.Writer) error {
	logger := glogLogger{}
	client := backendclient.NewHTTPClient(cfg.BackendURL, cfg.Token, nil)
	notifications := content.NewNotificationCenter()
	store := content.NewStore(content.StoreOptions{
		Slug:          page,
		Saver:         client,
		Logger:        logger,
		Notifier:      notifications,
		DisableSave:   !cfg.SaveEnabled,
		DebounceDelay: cfg.DebounceDelay,
		LockDuration:  cfg.LockDuration,
		SaveTimeout:   cfg.SaveTimeout,
	})
	defer store.Close()

	syncer, err := backendclient.NewSyncer(client, store, backendclient.SyncerOptions{
		Slug:         page,
		PollInterval: cfg.PollInterval,
		PollJitter:   cfg.PollJitter,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	defaults, err := discoverDefaults(cfg, logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	sessionCtx, cancel := context.WithCancel(gctx)
	defer cancel()
	g.Go(func() error { return syncer.Run(sessionCtx) })
	g.Go(func() error {
		defer cancel()
		s := &session{
			ctx:           store.Bind(sessionCtx),
			store:         store,
			client:        client,
			syncer:        syncer,
			notifications: notifications,
			defaults:      defaults,
			out:           out,
		}
		return s.run(in)
	})
	err = g.Wait()
	if warning := store.LeaveWarning(); warning != "" {
		fmt.Fprintln(out, warning)
	}
	return err
}

func discoverDefaults(cfg config.EditorConfig, logger glogLogger) (content.DefaultContent, error) {
	if cfg.DefaultContentDepth <= 0 {
		return content.DefaultContent{}, nil
	}
	paths, err := defaultcontent.Discover(cfg.DefaultContentDir, cfg.DefaultContentDepth, logger)
	if err != nil {
		return nil, err
	}
	return defaultcontent.Load(paths...)
}

type session struct {
	ctx           context.Context
	store         *content.Store
	client        *backendclient.HTTPClient
	syncer        *backendclient.Syncer
	notifications *content.NotificationCenter
	defaults      content.DefaultContent
	out           io.Writer
}

func (s *session) run(in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-s.ctx.Done():
				return
			}
		}
	}()
	for {
		select {
		case <-s.ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if done := s.exec(line); done {
				return nil
			}
		}
	}
}

func (s *session) exec(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "quit", "exit":
		return true
	case "get":
		if len(fields) < 2 {
			s.printf("usage: get <path> [jsonpath]")
			return false
		}
		var node content.ContentNode = s.node(fields[1])
		if len(fields) > 2 {
			field, err := content.FieldNode(node, fields[2], glogLogger{})
			if err != nil {
				s.printf("error: %v", err)
				return false
			}
			node = field
		}
		s.printJSON(node.Data())
	case "set":
		parts := strings.SplitN(strings.TrimSpace(line), " ", 3)
		if len(parts) < 3 {
			s.printf("usage: set <path> <json>")
			return false
		}
		var data content.Data
		if err := json.Unmarshal([]byte(parts[2]), &data); err != nil || data == nil {
			s.printf("error: data must be a JSON object")
			return false
		}
		s.node(parts[1]).SetData(data)
		s.printf("ok")
	case "delete":
		if len(fields) < 2 {
			s.printf("usage: delete <path>")
			return false
		}
		s.node(fields[1]).Delete()
		s.printf("ok")
	case "keys":
		for _, key := range s.store.GetKeys() {
			s.printf("%s", key)
		}
	case "pending":
		for _, item := range s.store.PendingItems() {
			s.printf("%s\t%s", item.Key, item.State)
		}
	case "notifications":
		for _, n := range s.notifications.Notifications() {
			s.printf("%s: %s", n.ID, n.Message)
		}
	case "flush":
		if err := s.store.Flush(s.ctx); err != nil {
			s.printf("error: %v", err)
			return false
		}
		s.printf("flushed")
	case "sync":
		if err := s.syncer.SyncOnce(s.ctx); err != nil {
			s.printf("error: %v", err)
			return false
		}
		s.printf("synced")
	case "new-page":
		if len(fields) < 2 {
			s.printf("usage: new-page <path> [template]")
			return false
		}
		template := ""
		if len(fields) > 2 {
			template = fields[2]
		}
		result, err := s.client.SavePage(s.ctx, fields[1], template)
		if errors.Is(err, backendclient.ErrConflict) {
			s.printf("page %s already exists", fields[1])
			return false
		}
		if err != nil {
			s.printf("error: %v", err)
			return false
		}
		s.printf("created %s from %s", result.Path, result.Template)
	default:
		s.printf("unknown command %q", fields[0])
	}
	return false
}

// node resolves a "$"-joined path against the page root, or the site root
// for "site:" paths. Page nodes fall back to discovered default content.
func (s *session) node(path string) content.ContentNode {
	var root content.ContentNode
	if rest, ok := strings.CutPrefix(path, sitePrefix); ok {
		root = content.UseNode(s.ctx, content.SiteCollection)
		path = rest
	} else {
		root = content.WithDefaultContent(content.UseNode(s.ctx, content.DefaultCollection), s.defaults)
	}
	node := root
	for _, segment := range content.SplitKey(path) {
		if segment != "" {
			node = node.Child(segment)
		}
	}
	return node
}

func (s *session) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format+"\n", args...)
}

func (s *session) printJSON(data content.Data) {
	raw, err := json.Marshal(data)
	if err != nil {
		s.printf("error: %v", err)
		return
	}
	s.printf("%s", raw)
}
