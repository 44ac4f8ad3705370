package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/enescakir/emoji"
	"github.com/kelseyhightower/envconfig"
	"golang.org/x/sync/errgroup"

	"github.com/adlib-games/adlib/internal/gamestore"
	"github.com/adlib-games/adlib/internal/logging"
	"github.com/adlib-games/adlib/internal/match"
	"github.com/adlib-games/adlib/internal/providerauth"
	"github.com/adlib-games/adlib/internal/scriptgen"
	"github.com/adlib-games/adlib/internal/shutdown"
)

var version string

// Config is read from the environment; flags pick the action.
type Config struct {
	// Directory holding the game and profile databases
	DataDir string `envconfig:"ADLIB_DATA_DIR"`

	// Gemini API key used when no -profile is given
	APIKey string `envconfig:"ADLIB_API_KEY"`

	// Gemini model used for generation
	Model string `envconfig:"ADLIB_MODEL" default:"gemini-2.5-flash"`

	// Round clock for scripts that do not set their own
	RoundSeconds int `envconfig:"ADLIB_ROUND_SECONDS" default:"60"`

	// Verbose logging plus a guest script log dump after each round
	Debug bool `envconfig:"ADLIB_DEBUG" default:"false"`
}

var (
	generateFlag      = flag.String("generate", "", "generate a game from an idea and play it")
	templateFlag      = flag.String("template", "", "play a built-in template by id")
	listTemplatesFlag = flag.Bool("list-templates", false, "list built-in templates")
	playFlag          = flag.String("play", "", "play a stored game by id, or a .lua file")
	listGamesFlag     = flag.Bool("list-games", false, "list stored games")
	roundsFlag        = flag.String("rounds", "", "list stored rounds for a game id")
	profileFlag       = flag.String("profile", "", "provider profile id used by -generate")
	profilesFlag      = flag.Bool("profiles", false, "list provider profiles")
	saveProfileFlag   = flag.String("save-profile", "", "create a provider profile with this label")
	setKeyFlag        = flag.String("set-key", "", "store an API key for a profile id (key read from stdin)")
	checkFlag         = flag.String("check", "", "check provider credentials for a profile id")
)

func main() {
	flag.Parse()

	_, _ = fmt.Fprintf(os.Stdout, "%s adlib %s\n", emoji.VideoGame.String(), version)

	ctx, done := shutdown.New()
	defer done()

	config := Config{}
	if err := envconfig.Process("", &config); err != nil {
		logging.DefaultLogger().Fatalf("processing the config: %v", err)
	}

	logger := logging.NewLogger(config.Debug)
	ctx = logging.WithLogger(ctx, logger)

	if err := realMain(ctx, config); err != nil {
		logger.Fatalf("main.realMain: %v", err)
	}
}

func realMain(ctx context.Context, config Config) error {
	dataDir, err := ensureDataDir(config.DataDir)
	if err != nil {
		return err
	}

	switch {
	case *listTemplatesFlag:
		return listTemplates()
	case *profilesFlag:
		return withAuth(ctx, dataDir, listProfiles)
	case *saveProfileFlag != "":
		return withAuth(ctx, dataDir, func(auth *providerauth.Module) error {
			return saveProfile(auth, *saveProfileFlag, config.Model)
		})
	case *setKeyFlag != "":
		return withAuth(ctx, dataDir, func(auth *providerauth.Module) error {
			return setProfileKey(auth, *setKeyFlag)
		})
	case *checkFlag != "":
		return withAuth(ctx, dataDir, func(auth *providerauth.Module) error {
			return checkProfile(ctx, auth, *checkFlag)
		})
	}

	store, err := gamestore.New(filepath.Join(dataDir, "games.db"))
	if err != nil {
		return fmt.Errorf("open game store: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrate game store: %w", err)
	}

	switch {
	case *listGamesFlag:
		return listGames(store)
	case *roundsFlag != "":
		return listRounds(store, *roundsFlag)
	case *generateFlag != "":
		game, err := generateGame(ctx, dataDir, config, store, *generateFlag)
		if err != nil {
			return err
		}
		return playGame(ctx, config, store, game)
	case *templateFlag != "":
		game, err := templateGame(store, *templateFlag)
		if err != nil {
			return err
		}
		return playGame(ctx, config, store, game)
	case *playFlag != "":
		game, err := resolveGame(store, *playFlag)
		if err != nil {
			return err
		}
		return playGame(ctx, config, store, game)
	default:
		flag.Usage()
		return nil
	}
}

// ensureDataDir resolves and creates the data directory. Secrets may land in
// a fallback file here, hence the tight mode.
func ensureDataDir(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			base = "."
		}
		dir = filepath.Join(base, "adlib")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return dir, nil
}

// withAuth opens the profile store for one command and closes it after.
func withAuth(ctx context.Context, dataDir string, fn func(*providerauth.Module) error) error {
	authStore, err := providerauth.New(filepath.Join(dataDir, "auth.db"))
	if err != nil {
		return fmt.Errorf("open auth store: %w", err)
	}
	defer authStore.Close()
	if err := authStore.Migrate(); err != nil {
		return fmt.Errorf("migrate auth store: %w", err)
	}

	kr := providerauth.NewKeyringStore("adlib", filepath.Join(dataDir, "secrets.json"))
	probe := func(ctx context.Context, apiKey, model string) error {
		gm, err := scriptgen.NewGeminiModel(ctx, apiKey, model)
		if err != nil {
			return err
		}
		defer gm.Close()
		return gm.Ping(ctx)
	}
	return fn(providerauth.NewModule(authStore, kr, probe))
}

func listProfiles(auth *providerauth.Module) error {
	profiles, err := auth.ListProfiles()
	if err != nil {
		return err
	}
	if len(profiles) == 0 {
		fmt.Println("No profiles yet. Create one with -save-profile <label>.")
		return nil
	}
	for _, p := range profiles {
		masked, err := auth.GetSecretsMasked(p.ID)
		if err != nil {
			return err
		}
		key := emoji.CrossMark.String()
		if masked.HasAPIKey {
			key = emoji.CheckMarkButton.String()
		}
		fmt.Printf("%s  %s  %s (%s/%s)\n", key, p.ID, p.Label, p.Provider, p.Model)
	}
	return nil
}

func saveProfile(auth *providerauth.Module, label, model string) error {
	p, err := auth.SaveProfile(providerauth.Profile{Label: label, Model: model})
	if err != nil {
		return err
	}
	fmt.Printf("%s Profile %s created. Store its key with -set-key %s\n", emoji.CheckMarkButton.String(), p.ID, p.ID)
	return nil
}

func setProfileKey(auth *providerauth.Module, id string) error {
	fmt.Println("Enter the provider API key:")
	var key string
	for {
		_, err := fmt.Scanf("%s\n", &key)
		if err != nil {
			if err.Error() == "unexpected newline" {
				continue
			}
			return fmt.Errorf("read key: %w", err)
		}
		if key == "" {
			fmt.Println("api key is empty, enter a valid key:")
			continue
		}
		break
	}
	if err := auth.SetAPIKey(id, key); err != nil {
		return err
	}
	fmt.Printf("%s Key stored for profile %s\n", emoji.CheckMarkButton.String(), id)
	return nil
}

func checkProfile(ctx context.Context, auth *providerauth.Module, id string) error {
	result, err := auth.CheckConnection(ctx, id)
	if err != nil {
		return err
	}
	for _, step := range result.Steps {
		mark := emoji.CrossMark.String()
		if step.Success {
			mark = emoji.CheckMarkButton.String()
		}
		line := fmt.Sprintf("%s %s", mark, step.Name)
		if step.Message != "" {
			line += ": " + step.Message
		}
		fmt.Println(line)
	}
	if !result.OK {
		return fmt.Errorf("connection check failed")
	}
	fmt.Printf("%s Profile %s is ready.\n", emoji.Rocket.String(), id)
	return nil
}

func listTemplates() error {
	templates, err := scriptgen.Templates()
	if err != nil {
		return err
	}
	for _, tpl := range templates {
		fmt.Printf("%s %-16s %3ds  %-8s %s\n",
			emoji.VideoGame.String(), tpl.ID, tpl.Duration, tpl.Category, tpl.Description)
	}
	return nil
}

func listGames(store *gamestore.Store) error {
	games, total, err := store.ListGames(50, 0)
	if err != nil {
		return err
	}
	if total == 0 {
		fmt.Println("No games stored yet. Try -generate or -template.")
		return nil
	}
	for _, g := range games {
		fmt.Printf("%s  %s  %q (%s) plays=%d best=%d\n",
			emoji.GameDie.String(), g.ID, g.Title, g.Origin, g.PlayCount, g.BestScore)
	}
	if total > len(games) {
		fmt.Printf("...and %d more\n", total-len(games))
	}
	return nil
}

func listRounds(store *gamestore.Store, gameID string) error {
	page, err := store.ListRounds(gameID, 1, 20)
	if err != nil {
		return err
	}
	if page.TotalCount == 0 {
		fmt.Println("No rounds recorded for this game yet.")
		return nil
	}
	for _, r := range page.Rounds {
		when := "in progress"
		if r.EndedAt != nil {
			when = r.EndedAt.Format("2006-01-02 15:04")
		}
		fmt.Printf("%s  %s  %s score=%d correct=%d/%d reason=%s\n",
			emoji.ChequeredFlag.String(), r.ID, when, r.Score, r.Correct, r.Inputs, r.Reason)
	}
	fmt.Printf("page %d/%d, %d rounds total\n", page.Page, page.TotalPages, page.TotalCount)
	return nil
}

func generateGame(ctx context.Context, dataDir string, config Config, store *gamestore.Store, idea string) (*gamestore.Game, error) {
	logger := logging.FromContext(ctx).Named("main.generate")

	apiKey := strings.TrimSpace(config.APIKey)
	model := config.Model
	if *profileFlag != "" {
		err := withAuth(ctx, dataDir, func(auth *providerauth.Module) error {
			profile, err := auth.GetProfile(*profileFlag)
			if err != nil {
				return err
			}
			key, err := auth.ResolveKey(profile.ID)
			if err != nil {
				return err
			}
			apiKey = key
			if profile.Model != "" {
				model = profile.Model
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	if apiKey == "" {
		return nil, fmt.Errorf("no api key: set ADLIB_API_KEY or use -profile")
	}

	gm, err := scriptgen.NewGeminiModel(ctx, apiKey, model)
	if err != nil {
		return nil, err
	}
	defer gm.Close()

	fmt.Printf("%s Generating %q with %s...\n", emoji.Robot.String(), idea, model)
	gen := scriptgen.NewGenerator(gm, logger)
	res, err := gen.Generate(ctx, scriptgen.Request{Idea: idea, Duration: config.RoundSeconds})
	if err != nil {
		return nil, err
	}
	logger.Infow("game generated", "title", res.Title, "attempts", res.Attempts)

	game := &gamestore.Game{
		Title:       res.Title,
		Description: res.Description,
		Category:    res.Category,
		Duration:    res.Duration,
		Source:      res.Source,
		Origin:      gamestore.OriginGenerated,
		Model:       res.Model,
	}
	id, err := store.CreateGame(game)
	if err != nil {
		return nil, err
	}
	game.ID = id
	fmt.Printf("%s Saved %q as %s\n", emoji.Bookmark.String(), game.Title, id)
	return game, nil
}

// templateGame seeds (or refreshes) the built-in game's row and plays it,
// so template rounds accumulate history like generated ones.
func templateGame(store *gamestore.Store, id string) (*gamestore.Game, error) {
	tpl, err := scriptgen.TemplateByID(id)
	if err != nil {
		return nil, err
	}
	game := &gamestore.Game{
		ID:          tpl.ID,
		Title:       tpl.Title,
		Description: tpl.Description,
		Category:    tpl.Category,
		Duration:    tpl.Duration,
		Source:      tpl.Source,
		Origin:      gamestore.OriginTemplate,
	}
	if err := store.UpsertGame(game); err != nil {
		return nil, err
	}
	return store.GetGame(tpl.ID)
}

// resolveGame loads a stored game by id, or a bare .lua file for a quick
// unsaved round.
func resolveGame(store *gamestore.Store, arg string) (*gamestore.Game, error) {
	if strings.HasSuffix(arg, ".lua") {
		source, err := os.ReadFile(arg)
		if err != nil {
			return nil, fmt.Errorf("read script: %w", err)
		}
		return &gamestore.Game{
			Title:  filepath.Base(arg),
			Source: string(source),
		}, nil
	}
	return store.GetGame(arg)
}

// roundWatcher prints the countdown and signals the end of the round.
type roundWatcher struct {
	lastSeen int
	done     chan struct{}
}

func newRoundWatcher() *roundWatcher {
	return &roundWatcher{lastSeen: -1, done: make(chan struct{})}
}

func (w *roundWatcher) StateChanged(snap match.Snapshot) {
	if snap.Status != match.StatusPlaying {
		return
	}
	left := snap.State.TimeRemaining
	if left == w.lastSeen {
		return
	}
	w.lastSeen = left
	if left <= 5 || left%15 == 0 {
		fmt.Printf("%s %ds left\n", emoji.Stopwatch.String(), left)
	}
}

func (w *roundWatcher) RoundEnded(match.Summary) {
	close(w.done)
}

func playGame(ctx context.Context, config Config, store *gamestore.Store, game *gamestore.Game) error {
	logger := logging.FromContext(ctx).Named("main.play")
	persist := game.ID != ""

	watcher := newRoundWatcher()
	sessionCfg := match.Config{
		GameID:          game.ID,
		Source:          game.Source,
		DurationSeconds: game.Duration,
		Emitter:         watcher,
		Logger:          logger,
	}
	if sessionCfg.DurationSeconds <= 0 {
		sessionCfg.DurationSeconds = config.RoundSeconds
	}

	var recorder *gamestore.Recorder
	if persist {
		recorder = gamestore.NewRecorder(store, logger, 0)
		defer recorder.Close()
		sessionCfg.Recorder = recorder
	}

	session := match.NewSession(sessionCfg)
	defer session.Close()

	if err := session.Initialize(); err != nil {
		return fmt.Errorf("script rejected: %w", err)
	}
	snap, err := session.Snapshot()
	if err != nil {
		return err
	}
	if persist {
		if _, err := store.CreateRound(&gamestore.Round{ID: snap.RoundID, GameID: game.ID}); err != nil {
			return fmt.Errorf("create round: %w", err)
		}
	}

	fmt.Printf("\n%s %s\n", emoji.VideoGame.String(), game.Title)
	if game.Description != "" {
		fmt.Println("   " + game.Description)
	}
	fmt.Println("Type answers and press enter. Commands: /hint /quit")

	if err := session.Start(); err != nil {
		return err
	}
	snap, err = session.Snapshot()
	if err != nil {
		return err
	}
	if snap.State.CurrentChallenge != "" {
		fmt.Printf("%s %s\n", emoji.GameDie.String(), snap.State.CurrentChallenge)
	}

	// The reader stays blocked on stdin past the end of the round; the
	// process exits right after, so it is not joined.
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
		close(lines)
	}()

	g := errgroup.Group{}
	g.Go(func() error {
		for {
			select {
			case <-watcher.done:
				return nil
			case <-ctx.Done():
				return stopQuietly(session)
			case line, ok := <-lines:
				if !ok {
					return stopQuietly(session)
				}
				if line == "" {
					continue
				}
				if err := handleLine(session, line); err != nil {
					return err
				}
			}
		}
	})
	if err := g.Wait(); err != nil {
		return err
	}
	<-watcher.done

	sum, ok := session.Summary()
	if !ok {
		return fmt.Errorf("round ended without a summary")
	}
	printSummary(sum)

	if config.Debug {
		dumpScriptLogs(session)
	}

	if persist {
		round := gamestore.RoundFromSummary(sum)
		if err := store.FinishRound(&round); err != nil {
			return fmt.Errorf("finish round: %w", err)
		}
		if err := store.RecordPlay(game.ID, sum.Score); err != nil {
			return fmt.Errorf("record play: %w", err)
		}
	}
	return nil
}

func handleLine(session *match.Session, line string) error {
	switch line {
	case "/quit":
		return stopQuietly(session)
	case "/hint":
		hint, err := session.HintNow()
		if err != nil {
			return ignoreRoundOver(err)
		}
		if hint == "" {
			fmt.Println("No hint for this one.")
		} else {
			fmt.Printf("%s Hint: %s\n", emoji.Loudspeaker.String(), hint)
		}
	default:
		res, err := session.Submit(line)
		if err != nil {
			return ignoreRoundOver(err)
		}
		if res.Correct {
			fmt.Printf("%s Correct! %s+%d (score %d)\n",
				emoji.CheckMarkButton.String(), emoji.GemStone.String(), res.Points, res.State.Score)
			if res.State.IsPlaying && res.State.CurrentChallenge != "" {
				fmt.Printf("%s %s\n", emoji.GameDie.String(), res.State.CurrentChallenge)
			}
		} else if res.State.MaxWrongGuesses > 0 {
			left := res.State.MaxWrongGuesses - res.State.WrongGuesses
			fmt.Printf("%s Not it. %d tries left.\n", emoji.CrossMark.String(), left)
		} else {
			fmt.Printf("%s Not it.\n", emoji.CrossMark.String())
		}
	}
	return nil
}

// stopQuietly ends the round, tolerating one that already ended.
func stopQuietly(session *match.Session) error {
	if err := session.Stop(); err != nil {
		return ignoreRoundOver(err)
	}
	return nil
}

func ignoreRoundOver(err error) error {
	if errors.Is(err, match.ErrNotPlaying) || errors.Is(err, match.ErrSessionClosed) {
		return nil
	}
	return err
}

func printSummary(sum match.Summary) {
	fmt.Printf("\n%s Round over: %s\n", emoji.ChequeredFlag.String(), reasonText(sum.Reason))
	fmt.Printf("%s Score %d | correct %d/%d | wrong %d | hints %d | %ds played\n",
		emoji.Trophy.String(), sum.Score, sum.Correct, sum.Inputs,
		sum.WrongGuesses, sum.HintsUsed, sum.PlayedSeconds)
	if len(sum.Series) > 1 {
		fmt.Printf("%s score over time: %s\n", emoji.HundredPoints.String(), seriesLine(sum.Series))
	}
}

func dumpScriptLogs(session *match.Session) {
	logs, err := session.ScriptLogs()
	if err != nil || len(logs) == 0 {
		return
	}
	fmt.Println("script log:")
	for _, entry := range logs {
		fmt.Printf("  %s %s\n", entry.Time.Format("15:04:05.000"), entry.Message)
	}
}

func reasonText(reason match.EndReason) string {
	switch reason {
	case match.EndTimeUp:
		return "time up"
	case match.EndOutOfGuesses:
		return "out of guesses"
	case match.EndScriptEnded:
		return "finished"
	case match.EndStopped:
		return "stopped"
	default:
		return string(reason)
	}
}

// seriesLine renders the score series as sparse elapsed:score samples.
func seriesLine(series []match.ScorePoint) string {
	const maxCols = 12
	step := 1
	if len(series) > maxCols {
		step = (len(series) + maxCols - 1) / maxCols
	}
	var b strings.Builder
	lastPrinted := -1
	for i := 0; i < len(series); i += step {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%ds:%d", series[i].Elapsed, series[i].Score)
		lastPrinted = i
	}
	if last := len(series) - 1; last != lastPrinted {
		fmt.Fprintf(&b, " %ds:%d", series[last].Elapsed, series[last].Score)
	}
	return b.String()
}
