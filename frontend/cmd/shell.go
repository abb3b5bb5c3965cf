package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ishell "github.com/abiosoft/ishell"
	"github.com/common-nighthawk/go-figure"

	"github.com/jghoshh/fitquest/backend/models"
	"github.com/jghoshh/fitquest/backend/quest"
	"github.com/jghoshh/fitquest/frontend/client"
	"github.com/jghoshh/fitquest/lib/utils"
)

// requestTimeout bounds every call a command makes to the server.
const requestTimeout = 30 * time.Second

// API is the part of the client the shell commands use.
type API interface {
	LoggedIn() bool
	Login(ctx context.Context, token string) (*quest.Profile, error)
	Logout() error
	Me(ctx context.Context) (*quest.Profile, error)
	UpdateOnboarding(ctx context.Context, onboarding models.Onboarding) (*quest.Profile, error)
	Quests(ctx context.Context) (*quest.ActiveQuests, error)
	Complete(ctx context.Context, questID string) (*quest.CompletionResult, error)
	Progress(ctx context.Context) (*quest.ProgressView, error)
	Wallet(ctx context.Context) (*quest.WalletView, error)
	Checkin(ctx context.Context) (*quest.StreakView, error)
	ResendVerification(ctx context.Context, email string) error
	VerifyEmail(ctx context.Context, email, code string) error
}

// The Command struct defines a user command in the system. Each command has a Name, a Desc (short for description), and a Func (the function to execute when the command is called).
type Command struct {
	Name string                  // Name is the name of the command.
	Desc string                  // Desc is a short description of what the command does.
	Func func(c *ishell.Context) // Func is the function that is executed when the command is invoked.
}

// Shell is the interactive FitQuest shell. Guest commands are swapped for
// player commands on login and back on logout.
type Shell struct {
	api    API
	shell  *ishell.Shell
	guest  []Command
	player []Command
	common []Command
}

// NewShell builds the shell and its command sets.
func NewShell(api API) *Shell {
	s := &Shell{api: api, shell: ishell.New()}

	s.guest = []Command{
		{Name: "login", Desc: "Log in with a bearer token", Func: s.login},
		{Name: "resend", Desc: "Send a new email verification code", Func: s.resend},
		{Name: "verify", Desc: "Verify your email with a code", Func: s.verify},
	}
	s.player = []Command{
		{Name: "quests", Desc: "Show your active quests", Func: s.quests},
		{Name: "complete", Desc: "Complete a quest: complete <quest_id>", Func: s.complete},
		{Name: "progress", Desc: "Show your level and XP", Func: s.progress},
		{Name: "wallet", Desc: "Show your coin balance", Func: s.wallet},
		{Name: "checkin", Desc: "Check in for today's streak", Func: s.checkin},
		{Name: "me", Desc: "Show your profile", Func: s.me},
		{Name: "onboard", Desc: "Answer the onboarding questions", Func: s.onboard},
		{Name: "resend", Desc: "Send a new email verification code", Func: s.resend},
		{Name: "verify", Desc: "Verify your email with a code", Func: s.verify},
		{Name: "logout", Desc: "Log out of your account", Func: s.logout},
	}
	s.common = []Command{
		{Name: "exit", Desc: "Exit the application", Func: func(c *ishell.Context) {
			c.Println("Goodbye!")
			s.shell.Stop()
		}},
		{Name: "help", Desc: "List available commands", Func: s.help},
	}
	return s
}

// Execute is the main function that executes the shell.
// It welcomes the user, adds the commands for the current login state, and runs the shell.
func (s *Shell) Execute() {
	s.shell.Println()
	figure.NewFigure("FitQuest", "basic", true).Print()
	s.shell.Println("Welcome to FitQuest -- quests, XP and streaks for your workouts. Type 'help' to see a list of commands.")

	addCommands(s.shell, s.common)
	if s.api.LoggedIn() {
		addCommands(s.shell, s.player)
	} else {
		addCommands(s.shell, s.guest)
	}
	s.shell.Run()
}

// addCommands is a helper function that adds the given commands to the shell.
func addCommands(shell *ishell.Shell, commands []Command) {
	for _, command := range commands {
		shell.AddCmd(&ishell.Cmd{
			Name: command.Name,
			Help: command.Desc,
			Func: command.Func,
		})
	}
}

func swapCommands(shell *ishell.Shell, from, to []Command) {
	for _, command := range from {
		shell.DeleteCmd(command.Name)
	}
	addCommands(shell, to)
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestTimeout)
}

// report prints err in the error banner. A 401 hints at logging in again.
func report(err error) {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Status == 401 {
		utils.PrintError(apiErr.Error() + ", log in again")
		return
	}
	utils.PrintError(err.Error())
}

func (s *Shell) help(c *ishell.Context) {
	commands := s.guest
	if s.api.LoggedIn() {
		commands = s.player
	}
	c.Println("Available commands:")
	for _, command := range append(append([]Command{}, commands...), s.common...) {
		c.Println("  |-- " + command.String())
	}
	c.Println()
}

func (s *Shell) login(c *ishell.Context) {
	c.Print("Paste your token: ")
	token := c.ReadPassword()

	rctx, cancel := requestContext()
	defer cancel()
	profile, err := s.api.Login(rctx, token)
	if err != nil {
		report(err)
		return
	}
	c.Printf("Welcome, %s.\n", profile.Name)
	if !profile.Verified {
		c.Println("Your email is not verified yet. Use 'resend' and 'verify'.")
	}
	if !profile.Onboarded {
		c.Println("Answer a few questions with 'onboard' to unlock your quests.")
	}
	swapCommands(s.shell, s.guest, s.player)
}

func (s *Shell) logout(c *ishell.Context) {
	if err := s.api.Logout(); err != nil {
		report(err)
		return
	}
	c.Println("You are now logged out.")
	swapCommands(s.shell, s.player, s.guest)
}

func (s *Shell) quests(c *ishell.Context) {
	rctx, cancel := requestContext()
	defer cancel()
	res, err := s.api.Quests(rctx)
	if err != nil {
		report(err)
		return
	}
	if len(res.Active) == 0 {
		c.Println("No active quests yet.")
	}
	for _, q := range res.Active {
		c.Printf("  [%s] %s  (%d/%d)  +%d XP +%d coins\n", q.QuestID, q.Title, q.Progress, q.Target, q.Rewards.XP, q.Rewards.Coins)
	}
	if res.Needed > 0 {
		c.Printf("%d more quest(s) are being prepared. Check back shortly.\n", res.Needed)
	}
}

func (s *Shell) complete(c *ishell.Context) {
	if len(c.Args) != 1 {
		c.Println("Usage: complete <quest_id>")
		return
	}
	rctx, cancel := requestContext()
	defer cancel()
	res, err := s.api.Complete(rctx, c.Args[0])
	if err != nil {
		report(err)
		return
	}
	c.Printf("Quest complete! +%d XP, +%d coins.\n", res.XPAwarded, res.CoinsAwarded)
	c.Printf("Level %d, %d XP total, %d XP to the next level.\n", res.Level, res.XPTotal, res.XPToNextLevel)
}

func (s *Shell) progress(c *ishell.Context) {
	rctx, cancel := requestContext()
	defer cancel()
	p, err := s.api.Progress(rctx)
	if err != nil {
		report(err)
		return
	}
	c.Printf("Level %d, %d XP total, %d XP to the next level, %d quests completed.\n",
		p.Level, p.XPTotal, p.XPToNextLevel, p.QuestsCompletedCount)
}

func (s *Shell) wallet(c *ishell.Context) {
	rctx, cancel := requestContext()
	defer cancel()
	w, err := s.api.Wallet(rctx)
	if err != nil {
		report(err)
		return
	}
	c.Printf("You have %d coins.\n", w.CoinsBalance)
}

func (s *Shell) checkin(c *ishell.Context) {
	rctx, cancel := requestContext()
	defer cancel()
	st, err := s.api.Checkin(rctx)
	if err != nil {
		report(err)
		return
	}
	c.Printf("Streak: %d day(s), best %d.\n", st.StreakCurrent, st.StreakBest)
}

func (s *Shell) me(c *ishell.Context) {
	rctx, cancel := requestContext()
	defer cancel()
	p, err := s.api.Me(rctx)
	if err != nil {
		report(err)
		return
	}
	c.Printf("%s <%s>\n", p.Name, p.Email)
	c.Printf("  verified: %t, onboarded: %t\n", p.Verified, p.Onboarded)
}

func (s *Shell) onboard(c *ishell.Context) {
	var ob models.Onboarding

	age := readInt(c, "Age: ")
	ob.Age = &age
	height := readFloat(c, "Height (inches): ")
	ob.HeightIn = &height
	weight := readFloat(c, "Weight (lb): ")
	ob.WeightLb = &weight

	goals := []string{"muscle", "fat_loss", "endurance", "mobility", "general_health"}
	ob.PrimaryGoal = goals[c.MultiChoice(goals, "Primary goal?")]
	levels := []string{"beginner", "intermediate", "advanced"}
	ob.Experience = levels[c.MultiChoice(levels, "Experience?")]
	equipment := []string{"none", "limited", "full_gym"}
	ob.Equipment = equipment[c.MultiChoice(equipment, "Equipment?")]

	days := readInt(c, "Workout days per week (1-7): ")
	ob.PreferredDaysPerWeek = &days

	rctx, cancel := requestContext()
	defer cancel()
	if _, err := s.api.UpdateOnboarding(rctx, ob); err != nil {
		report(err)
		return
	}
	c.Println("Thanks! Your quests are on the way, try 'quests'.")
}

func (s *Shell) resend(c *ishell.Context) {
	email := readEmail(c)
	rctx, cancel := requestContext()
	defer cancel()
	if err := s.api.ResendVerification(rctx, email); err != nil {
		report(err)
		return
	}
	c.Println("A verification code is on its way. Use 'verify' once it arrives.")
}

func (s *Shell) verify(c *ishell.Context) {
	email := readEmail(c)
	c.Print("Enter the 6 digit code: ")
	code := strings.TrimSpace(c.ReadLine())

	rctx, cancel := requestContext()
	defer cancel()
	if err := s.api.VerifyEmail(rctx, email, code); err != nil {
		report(err)
		return
	}
	c.Println("Email verified.")
}

func readEmail(c *ishell.Context) string {
	for {
		c.Print("Enter Email: ")
		email := strings.TrimSpace(c.ReadLine())
		if utils.ValidateEmail(email) {
			return email
		}
		c.Println("Email is not valid.")
	}
}

func readInt(c *ishell.Context, prompt string) int {
	for {
		c.Print(prompt)
		v, err := strconv.Atoi(strings.TrimSpace(c.ReadLine()))
		if err == nil {
			return v
		}
		c.Println("Please enter a whole number.")
	}
}

func readFloat(c *ishell.Context, prompt string) float64 {
	for {
		c.Print(prompt)
		v, err := strconv.ParseFloat(strings.TrimSpace(c.ReadLine()), 64)
		if err == nil {
			return v
		}
		c.Println("Please enter a number.")
	}
}

// String renders a command for listings.
func (c Command) String() string { return fmt.Sprintf("'%s' : %s", c.Name, c.Desc) }
