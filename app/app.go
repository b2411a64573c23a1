package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"crosscopy/config"
	"crosscopy/discovery"
	"crosscopy/history"
	"crosscopy/models"
	"crosscopy/network"
	"crosscopy/storage"
)

// DefaultStopTimeout bounds how long Close waits for watch loops to exit.
const DefaultStopTimeout = 5 * time.Second

// ErrUnknownPhrase is returned for operations on a phrase not in the history.
var ErrUnknownPhrase = errors.New("app: phrase is not in history")

// ServerLocator finds a cross-copy server on the local network.
type ServerLocator interface {
	Find(ctx context.Context) (discovery.Server, error)
}

// Options configures New.
type Options struct {
	DataDir string
	// Operation names the CLI command; it is logged with every record.
	Operation string
	// Stderr receives log output besides the log file. Defaults to os.Stderr.
	Stderr io.Writer
	// Locator is used when the config asks for server discovery.
	Locator ServerLocator
}

// App owns the process-wide History and every dependency behind it. All
// History mutation goes through the App.
type App struct {
	cfg     *config.ClientConfig
	dataDir string

	logger  *slog.Logger
	logFile *os.File

	prefs    *storage.Store
	client   *network.Client
	archive  *history.Store
	stopWait time.Duration

	mu      sync.Mutex
	history *history.History

	closeOnce sync.Once
	closeErr  error
}

// New wires storage, the server client and the history store, then loads the
// persisted History. Every loaded Secret is watching when New returns.
// The caller must call Close when done.
func New(ctx context.Context, cfg *config.ClientConfig, opts Options) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if strings.TrimSpace(opts.DataDir) == "" {
		return nil, errors.New("app: data directory is required")
	}

	opID := opts.Operation
	if opID == "" {
		opID = "op"
	}
	opID += "-" + uuid.NewString()[:8]

	logger, logFile, err := newLogger(opts.DataDir, opID, cfg.LogLevel, opts.Stderr)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		dataDir:  opts.DataDir,
		logger:   logger,
		logFile:  logFile,
		stopWait: DefaultStopTimeout,
	}

	serverURL, err := a.resolveServer(ctx, opts.Locator)
	if err != nil {
		a.closeResources()
		return nil, err
	}

	a.client, err = network.NewClient(network.ClientOptions{
		ServerURL:      serverURL,
		DeviceID:       cfg.DeviceID,
		RequestTimeout: cfg.RequestTimeout(),
	})
	if err != nil {
		a.closeResources()
		return nil, fmt.Errorf("creating server client: %w", err)
	}

	a.prefs, _, err = storage.Open(opts.DataDir)
	if err != nil {
		a.closeResources()
		return nil, fmt.Errorf("opening preferences: %w", err)
	}

	a.archive, err = history.NewStore(a.prefs, history.StoreConfig{
		Key:     cfg.HistoryKey,
		Watcher: a.client,
		Watch: history.WatchOptions{
			Logger:       &slogAdapter{l: logger},
			ErrorBackoff: cfg.WatchErrorBackoff(),
		},
	})
	if err != nil {
		a.closeResources()
		return nil, fmt.Errorf("creating history store: %w", err)
	}

	a.history, err = a.archive.Load()
	if err != nil {
		a.closeResources()
		return nil, fmt.Errorf("loading history: %w", err)
	}

	logger.Info("app started", "server", a.client.ServerURL(), "secrets", a.history.Len())
	return a, nil
}

func (a *App) resolveServer(ctx context.Context, locator ServerLocator) (string, error) {
	if !a.cfg.DiscoverServer {
		return a.cfg.ServerURL, nil
	}

	if locator == nil {
		l, err := discovery.NewLocator(discovery.Config{})
		if err != nil {
			return "", fmt.Errorf("creating server locator: %w", err)
		}
		locator = l
	}

	server, err := locator.Find(ctx)
	if errors.Is(err, discovery.ErrNoServer) {
		a.logger.Warn("no server found on local network, using configured server", "server", a.cfg.ServerURL)
		return a.cfg.ServerURL, nil
	}
	if err != nil {
		return "", fmt.Errorf("discovering server: %w", err)
	}

	a.logger.Info("discovered server", "instance", server.Instance, "url", server.URL())
	return server.URL(), nil
}

// Logger returns the application logger.
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// ServerURL returns the server the app talks to.
func (a *App) ServerURL() string {
	return a.client.ServerURL()
}

// Phrases lists the phrases in the history, in order.
func (a *App) Phrases() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.history.Phrases()
}

// Secret returns the Secret for phrase, or nil.
func (a *App) Secret(phrase string) *history.Secret {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.history.Find(strings.TrimSpace(phrase))
}

// Open returns the Secret for phrase, creating it (and starting its watch
// loop) if the history does not have one yet.
func (a *App) Open(phrase string) (*history.Secret, error) {
	phrase = strings.TrimSpace(phrase)

	a.mu.Lock()
	defer a.mu.Unlock()

	if secret := a.history.Find(phrase); secret != nil {
		return secret, nil
	}

	secret, err := a.archive.NewSecret(phrase)
	if err != nil {
		return nil, err
	}
	a.history.Add(secret)
	a.logger.Info("secret opened", "phrase", phrase)
	return secret, nil
}

// Send shares text under phrase and records it as an outbound item.
func (a *App) Send(ctx context.Context, phrase, text string) (models.DataItem, error) {
	if err := history.CheckItem(models.NewDataItem(text, models.Outbound, time.Time{})); err != nil {
		return models.DataItem{}, err
	}
	secret, err := a.Open(phrase)
	if err != nil {
		return models.DataItem{}, err
	}

	item, err := a.client.Share(ctx, secret.Phrase(), text)
	if err != nil {
		return models.DataItem{}, fmt.Errorf("sharing under %q: %w", secret.Phrase(), err)
	}
	a.record(secret, item)
	a.logger.Info("shared text", "phrase", secret.Phrase(), "id", item.ID)
	return item, nil
}

// SendFile uploads the file at path under phrase and records it as an
// outbound item pointing at the local file.
func (a *App) SendFile(ctx context.Context, phrase, path string) (models.DataItem, error) {
	secret, err := a.Open(phrase)
	if err != nil {
		return models.DataItem{}, err
	}

	item, err := a.client.Upload(ctx, secret.Phrase(), path)
	if err != nil {
		return models.DataItem{}, fmt.Errorf("uploading to %q: %w", secret.Phrase(), err)
	}
	a.record(secret, item)
	a.logger.Info("shared file", "phrase", secret.Phrase(), "id", item.ID, "path", path)
	return item, nil
}

// Receive fetches items shared under phrase since the newest known item.
// File references are downloaded into the configured files directory. The
// new items are returned oldest first.
func (a *App) Receive(ctx context.Context, phrase string) ([]models.DataItem, error) {
	secret, err := a.Open(phrase)
	if err != nil {
		return nil, err
	}

	items, err := a.client.Receive(ctx, secret.Phrase(), secret.LatestID())
	if err != nil {
		return nil, fmt.Errorf("receiving from %q: %w", secret.Phrase(), err)
	}

	for i := range items {
		if network.IsFileReference(items[i].Data) {
			local, err := a.client.Download(ctx, items[i].Data, a.cfg.FilesDir)
			if err != nil {
				a.logger.Warn("download failed", "phrase", secret.Phrase(), "data", items[i].Data, "error", err)
			} else {
				items[i].ItemPath = local
			}
		}
		a.record(secret, items[i])
	}

	if len(items) > 0 {
		a.logger.Info("received items", "phrase", secret.Phrase(), "count", len(items))
	}
	return items, nil
}

// record adds item to secret unless the history document could not store it
// unchanged, in which case it is only logged.
func (a *App) record(secret *history.Secret, item models.DataItem) {
	if err := history.CheckItem(item); err != nil {
		a.logger.Warn("item not recorded in history", "phrase", secret.Phrase(), "id", item.ID, "error", err)
		return
	}
	secret.AddItem(item)
}

// Forget removes phrase from the history, stops its watch loop and persists
// the result.
func (a *App) Forget(phrase string) error {
	phrase = strings.TrimSpace(phrase)

	a.mu.Lock()
	removed := a.history.Remove(phrase)
	a.mu.Unlock()

	if removed == 0 {
		return ErrUnknownPhrase
	}
	a.logger.Info("secret forgotten", "phrase", phrase)
	return a.Save()
}

// Save persists the history.
func (a *App) Save() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.archive.Save(a.history); err != nil {
		return fmt.Errorf("saving history: %w", err)
	}
	a.logger.Debug("history saved", "secrets", a.history.Len())
	return nil
}

// Close stops every watch loop, saves the history and releases resources.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		done := a.history.StopAll()
		a.mu.Unlock()

		select {
		case <-done:
		case <-time.After(a.stopWait):
			a.logger.Warn("watch loops did not stop in time", "timeout", a.stopWait)
		}

		var errs []error
		if err := a.Save(); err != nil {
			errs = append(errs, err)
		}
		if err := a.closeResources(); err != nil {
			errs = append(errs, err)
		}
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}

func (a *App) closeResources() error {
	var errs []error
	if a.prefs != nil {
		if err := a.prefs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing preferences: %w", err))
		}
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing log file: %w", err))
		}
	}
	return errors.Join(errs...)
}
