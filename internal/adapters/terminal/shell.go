package terminal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/PabloGalante/pocketpal/internal/app/session"
	"github.com/PabloGalante/pocketpal/internal/domain"
)

// DefaultAvatar is used when create is given no --avatar.
const DefaultAvatar = "turtle"

var errQuit = errors.New("quit")

type handlerFunc func(ctx context.Context, args []string) error

type command struct {
	usage   string
	summary string
	run     handlerFunc
}

// Shell is a line-oriented front end over a session gate.
type Shell struct {
	gate *session.Gate
	in   *bufio.Scanner
	out  io.Writer
	now  func() time.Time

	commands map[string]command
}

func NewShell(gate *session.Gate, in io.Reader, out io.Writer) *Shell {
	s := &Shell{
		gate: gate,
		in:   bufio.NewScanner(in),
		out:  out,
		now:  time.Now,
	}

	authed := func(h handlerFunc) handlerFunc { return chain(h, s.requireSession) }
	active := func(h handlerFunc) handlerFunc { return chain(h, s.requireCompanion, s.requireSession) }

	s.commands = map[string]command{
		"help":          {"help", "list commands", s.handleHelp},
		"register":      {"register <email>", "create an account", s.handleRegister},
		"login":         {"login <email>", "sign in", s.handleLogin},
		"logout":        {"logout", "sign out", authed(s.handleLogout)},
		"create":        {"create <name...> [--avatar <id>]", "create your friend", authed(s.handleCreate)},
		"feed":          {"feed", "feed your friend", active(s.interact(domain.InteractionFeed))},
		"play":          {"play", "play with your friend", active(s.interact(domain.InteractionPlay))},
		"rest":          {"rest", "let your friend rest", active(s.interact(domain.InteractionRest))},
		"status":        {"status", "show your friend", authed(s.handleStatus)},
		"history":       {"history [n]", "show recent interactions", active(s.handleHistory)},
		"notify":        {"notify on|off", "turn reminders on or off", authed(s.handleNotify)},
		"test-reminder": {"test-reminder", "send a reminder in a few seconds", active(s.handleTestReminder)},
		"reminders":     {"reminders", "list scheduled reminders", authed(s.handleReminders)},
		"reset":         {"reset", "delete your friend and its history", active(s.handleReset)},
		"quit":          {"quit", "leave", func(context.Context, []string) error { return errQuit }},
	}
	for name, cmd := range s.commands {
		cmd.run = withLogging(name, cmd.run)
		s.commands[name] = cmd
	}
	return s
}

// Run reads commands until quit, end of input or ctx is done.
func (s *Shell) Run(ctx context.Context) error {
	s.printf("PocketPal. Type help for commands.\n")
	for {
		if ctx.Err() != nil {
			return nil
		}
		s.printf("%s> ", s.gate.Phase())

		line, ok := s.readLine()
		if !ok {
			return s.in.Err()
		}
		if err := s.Dispatch(ctx, line); errors.Is(err, errQuit) {
			return nil
		}
	}
}

// Dispatch runs one command line and prints its outcome.
func (s *Shell) Dispatch(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	cmd, ok := s.commands[strings.ToLower(fields[0])]
	if !ok {
		s.printf("unknown command %q, type help\n", fields[0])
		return nil
	}

	err := cmd.run(ctx, fields[1:])
	if err != nil && !errors.Is(err, errQuit) {
		s.printf("! %s\n", message(err))
	}
	return err
}

func message(err error) string {
	var usage usageError
	switch {
	case errors.As(err, &usage):
		return "usage: " + string(usage)
	case errors.Is(err, session.ErrAlreadySignedIn):
		return "You are already signed in. Log out first."
	case errors.Is(err, session.ErrAuthInProgress):
		return "Signing in, please wait."
	default:
		return domain.UserMessage(err)
	}
}

type usageError string

func (e usageError) Error() string { return "usage: " + string(e) }

// ─────────────────────────────────────────────
// Account
// ─────────────────────────────────────────────

func (s *Shell) handleHelp(ctx context.Context, args []string) error {
	names := make([]string, 0, len(s.commands))
	for name := range s.commands {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		cmd := s.commands[name]
		s.printf("  %-36s %s\n", cmd.usage, cmd.summary)
	}
	return nil
}

func (s *Shell) handleRegister(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError(s.commands["register"].usage)
	}
	password := s.prompt("password: ")
	confirm := s.prompt("confirm password: ")

	if err := s.gate.SignUp(ctx, args[0], password, confirm); err != nil {
		return err
	}
	s.printf("Welcome! Now create your friend: create <name>\n")
	return nil
}

func (s *Shell) handleLogin(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError(s.commands["login"].usage)
	}
	password := s.prompt("password: ")

	if err := s.gate.SignIn(ctx, args[0], password); err != nil {
		return err
	}
	if s.gate.Phase() == session.PhaseNeedsCompanion {
		s.printf("Signed in. Create your friend: create <name>\n")
		return nil
	}
	s.printf("Welcome back!\n")
	return s.handleStatus(ctx, nil)
}

func (s *Shell) handleLogout(ctx context.Context, args []string) error {
	if err := s.gate.SignOut(ctx); err != nil {
		return err
	}
	s.printf("Signed out.\n")
	return nil
}

// ─────────────────────────────────────────────
// Companion
// ─────────────────────────────────────────────

func (s *Shell) handleCreate(ctx context.Context, args []string) error {
	var nameParts []string
	avatar := DefaultAvatar
	for i := 0; i < len(args); i++ {
		if args[i] == "--avatar" {
			if i+1 >= len(args) {
				return usageError(s.commands["create"].usage)
			}
			avatar = args[i+1]
			i++
			continue
		}
		nameParts = append(nameParts, args[i])
	}

	ctrl, err := s.gate.Companion()
	if err != nil {
		return err
	}
	if err := ctrl.CreateCompanion(ctx, strings.Join(nameParts, " "), avatar); err != nil {
		return err
	}
	return s.handleStatus(ctx, nil)
}

func (s *Shell) interact(kind domain.InteractionKind) handlerFunc {
	return func(ctx context.Context, args []string) error {
		ctrl, err := s.gate.Companion()
		if err != nil {
			return err
		}
		before := ctrl.State().Companion.Mood
		if err := ctrl.Interact(ctx, kind); err != nil {
			return err
		}
		after := ctrl.State().Companion.Mood
		s.printf("%s %s: %s %s -> %s %s\n",
			kind.Emoji(), kind.Label(),
			before.Emoji(), before.Label(),
			after.Emoji(), after.Label())
		return nil
	}
}

func (s *Shell) handleStatus(ctx context.Context, args []string) error {
	ctrl, err := s.gate.Companion()
	if err != nil {
		return err
	}
	c := ctrl.State().Companion
	if !c.HasCompanion() {
		s.printf("You have no friend yet. create <name>\n")
		return nil
	}

	last := "never"
	if c.LastInteractionAt != nil {
		last = humanize.RelTime(*c.LastInteractionAt, s.now(), "ago", "from now")
	}
	notif := "off"
	if c.NotificationsEnabled {
		notif = "on"
	}

	s.printf("%s (%s)\n", c.Name, c.AvatarID)
	s.printf("  mood:          %s %s\n", c.Mood.Emoji(), c.Mood.Label())
	s.printf("  last together: %s\n", last)
	s.printf("  reminders:     %s\n", notif)

	if reminders, err := ctrl.Reminders(ctx); err == nil && len(reminders) > 0 {
		s.printf("  next reminder: %s\n", humanize.RelTime(reminders[0].FiresAt, s.now(), "ago", "from now"))
	}
	return nil
}

func (s *Shell) handleHistory(ctx context.Context, args []string) error {
	ctrl, err := s.gate.Companion()
	if err != nil {
		return err
	}

	limit := 0
	if len(args) > 0 {
		if _, err := fmt.Sscanf(args[0], "%d", &limit); err != nil || limit <= 0 {
			return usageError(s.commands["history"].usage)
		}
	}

	events := ctrl.History(limit)
	if len(events) == 0 {
		s.printf("No interactions yet.\n")
		return nil
	}
	for _, e := range events {
		s.printf("  %-14s %s %-5s %s -> %s\n",
			humanize.RelTime(e.OccurredAt, s.now(), "ago", "from now"),
			e.Kind.Emoji(), e.Kind.Label(),
			e.MoodBefore.Label(), e.MoodAfter.Label())
	}
	return nil
}

func (s *Shell) handleReset(ctx context.Context, args []string) error {
	ctrl, err := s.gate.Companion()
	if err != nil {
		return err
	}
	name := ctrl.State().Companion.Name
	answer := s.prompt(fmt.Sprintf("Say goodbye to %s? This deletes all history. Type yes to confirm: ", name))
	if !strings.EqualFold(strings.TrimSpace(answer), "yes") {
		s.printf("Kept %s.\n", name)
		return nil
	}
	if err := ctrl.Reset(ctx); err != nil {
		return err
	}
	s.printf("%s is gone. create <name> to start over.\n", name)
	return nil
}

// ─────────────────────────────────────────────
// Reminders
// ─────────────────────────────────────────────

func (s *Shell) handleNotify(ctx context.Context, args []string) error {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		return usageError(s.commands["notify"].usage)
	}
	ctrl, err := s.gate.Companion()
	if err != nil {
		return err
	}
	if err := ctrl.SetNotifications(ctx, args[0] == "on"); err != nil {
		return err
	}
	s.printf("Reminders %s.\n", args[0])
	return nil
}

func (s *Shell) handleTestReminder(ctx context.Context, args []string) error {
	ctrl, err := s.gate.Companion()
	if err != nil {
		return err
	}
	if _, err := ctrl.SendTestReminder(ctx); err != nil {
		return err
	}
	s.printf("A reminder is on its way in %s.\n", domain.TestReminderDelay)
	return nil
}

func (s *Shell) handleReminders(ctx context.Context, args []string) error {
	ctrl, err := s.gate.Companion()
	if err != nil {
		return err
	}
	reminders, err := ctrl.Reminders(ctx)
	if err != nil {
		return err
	}
	s.printf("%s scheduled.\n", pluralize(len(reminders), "reminder"))
	for _, r := range reminders {
		s.printf("  %-14s %s\n", humanize.RelTime(r.FiresAt, s.now(), "ago", "from now"), r.Title)
	}
	return nil
}

// ─────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────

func (s *Shell) requireSession(next handlerFunc) handlerFunc {
	return func(ctx context.Context, args []string) error {
		if _, err := s.gate.Companion(); err != nil {
			return err
		}
		return next(ctx, args)
	}
}

func (s *Shell) requireCompanion(next handlerFunc) handlerFunc {
	return func(ctx context.Context, args []string) error {
		ctrl, err := s.gate.Companion()
		if err != nil {
			return err
		}
		if !ctrl.HasCompanion() {
			return domain.ErrNoCompanion
		}
		return next(ctx, args)
	}
}

func (s *Shell) readLine() (string, bool) {
	if !s.in.Scan() {
		return "", false
	}
	return s.in.Text(), true
}

func (s *Shell) prompt(label string) string {
	s.printf("%s", label)
	line, _ := s.readLine()
	return line
}

func (s *Shell) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(s.out, format, args...)
}

func pluralize(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return humanize.Comma(int64(n)) + " " + word + "s"
}

