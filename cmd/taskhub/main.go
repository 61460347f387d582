package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

type client struct {
	baseURL    string
	apiKey     string
	adminToken string
	httpClient *http.Client
}

type agentResp struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	APIKey        string `json:"apiKey"`
	LedgerAddress string `json:"ledgerAddress"`
	ReferralCode  string `json:"referralCode"`
}

type taskResp struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Amount    string `json:"amount"`
	Status    string `json:"status"`
	PosterID  string `json:"posterId"`
	ClaimerID string `json:"claimerId"`
}

type payoutResp struct {
	TaskID        string `json:"taskId"`
	Status        string `json:"status"`
	FeeAmount     int64  `json:"feeAmount"`
	NetAmount     int64  `json:"netAmount"`
	Decimals      int    `json:"decimals"`
	FeeSettled    bool   `json:"feeSettled"`
	BountySettled bool   `json:"bountySettled"`
	Error         string `json:"error"`
}

type ui struct {
	title func(a ...any) string
	ok    func(a ...any) string
	info  func(a ...any) string
	warn  func(a ...any) string
	err   func(a ...any) string
	dim   func(a ...any) string
}

type profile struct {
	BaseURL    string `yaml:"baseUrl"`
	APIKey     string `yaml:"apiKey"`
	AdminToken string `yaml:"adminToken"`
	AgentID    string `yaml:"agentId"`
	AgentName  string `yaml:"agentName"`
}

type cliConfig struct {
	CurrentProfile string             `yaml:"currentProfile"`
	Profiles       map[string]profile `yaml:"profiles"`
}

func newUI() *ui {
	return &ui{
		title: color.New(color.FgHiCyan, color.Bold).SprintFunc(),
		ok:    color.New(color.FgGreen, color.Bold).SprintFunc(),
		info:  color.New(color.FgCyan).SprintFunc(),
		warn:  color.New(color.FgYellow).SprintFunc(),
		err:   color.New(color.FgRed, color.Bold).SprintFunc(),
		dim:   color.New(color.FgHiBlack).SprintFunc(),
	}
}

func (c *client) request(method, path string, body any) (int, []byte, error) {
	var buf *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		buf = bytes.NewReader(b)
	} else {
		buf = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, c.baseURL+path, buf)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out, nil
}

func (c *client) adminRequest(method, path string, body any) (int, []byte, error) {
	var buf *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		buf = bytes.NewReader(b)
	} else {
		buf = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, c.baseURL+path, buf)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.adminToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.adminToken)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out, nil
}

func main() {
	baseURL := getenv("TASKHUB_BASE_URL", "http://localhost:8080")
	apiKey := getenv("TASKHUB_API_KEY", "")
	adminToken := getenv("TASKHUB_ADMIN_TOKEN", "")
	profileName := getenv("TASKHUB_PROFILE", "")
	ui := newUI()

	root := &cobra.Command{
		Use:   "taskhub",
		Short: "TaskHub CLI",
		Long:  "TaskHub CLI for posting, claiming, and settling bounty tasks.",
	}
	root.SetHelpTemplate(helpTemplate(ui))
	root.SilenceUsage = true

	root.PersistentFlags().StringVar(&baseURL, "base-url", baseURL, "Base URL for TaskHub")
	root.PersistentFlags().StringVar(&apiKey, "api-key", apiKey, "Agent API key")
	root.PersistentFlags().StringVar(&adminToken, "admin-token", adminToken, "Admin bearer token")
	root.PersistentFlags().StringVar(&profileName, "profile", profileName, "Config profile")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, _, _ := loadConfig()
		active := resolveProfileName(profileName, cfg)
		prof := cfg.Profiles[active]

		flags := cmd.Flags()
		if !flags.Changed("base-url") {
			if v := strings.TrimSpace(os.Getenv("TASKHUB_BASE_URL")); v != "" {
				baseURL = v
			} else if prof.BaseURL != "" {
				baseURL = prof.BaseURL
			}
		}
		if !flags.Changed("api-key") {
			if v := strings.TrimSpace(os.Getenv("TASKHUB_API_KEY")); v != "" {
				apiKey = v
			} else if prof.APIKey != "" {
				apiKey = prof.APIKey
			}
		}
		if !flags.Changed("admin-token") {
			if v := strings.TrimSpace(os.Getenv("TASKHUB_ADMIN_TOKEN")); v != "" {
				adminToken = v
			} else if prof.AdminToken != "" {
				adminToken = prof.AdminToken
			}
		}
		if !flags.Changed("profile") && profileName == "" && active != "" {
			profileName = active
		}
		return nil
	}

	root.AddCommand(initCmd(&profileName, ui))
	root.AddCommand(authCmd(&profileName, ui))
	root.AddCommand(agentCmd(&baseURL, &apiKey, &profileName, ui))
	root.AddCommand(taskCmd(&baseURL, &apiKey, ui))
	root.AddCommand(adminCmd(&baseURL, &adminToken, ui))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.err("[ERROR]"), err.Error())
		os.Exit(1)
	}
}

func initCmd(profileName *string, ui *ui) *cobra.Command {
	var (
		baseURL  string
		apiKey   string
		noPrompt bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize CLI config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := loadConfig()
			if err != nil {
				return err
			}
			active := resolveProfileName(*profileName, cfg)
			prof := cfg.Profiles[active]

			if baseURL == "" {
				baseURL = prof.BaseURL
			}
			if baseURL == "" {
				baseURL = "http://localhost:8080"
			}

			if !noPrompt {
				reader := bufio.NewReader(os.Stdin)
				baseURL = prompt(reader, "Base URL", baseURL)
				if apiKey == "" {
					apiKey = prompt(reader, "Agent API key (optional)", "")
				}
			}

			prof.BaseURL = strings.TrimSpace(baseURL)
			if apiKey != "" {
				prof.APIKey = strings.TrimSpace(apiKey)
			}

			if cfg.Profiles == nil {
				cfg.Profiles = map[string]profile{}
			}
			cfg.Profiles[active] = prof
			if cfg.CurrentProfile == "" || *profileName != "" {
				cfg.CurrentProfile = active
			}

			if err := saveConfig(cfg, cfgPath); err != nil {
				return err
			}
			fmt.Printf("%s Initialized profile '%s' at %s\n", ui.ok("[OK]"), active, cfgPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Base URL for TaskHub")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Agent API key")
	cmd.Flags().BoolVar(&noPrompt, "no-prompt", false, "Disable interactive prompts")
	return cmd
}

func authCmd(profileName *string, ui *ui) *cobra.Command {
	auth := &cobra.Command{
		Use:   "auth",
		Short: "Manage stored credentials",
	}

	var (
		apiKey     string
		adminToken string
		promptTok  bool
	)

	set := &cobra.Command{
		Use:   "set",
		Short: "Store credentials in config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiKey == "" && adminToken == "" && !promptTok {
				return errors.New("provide --api-key and/or --admin-token (or --prompt-admin-token)")
			}
			if promptTok {
				tok, err := promptSecret("Admin token")
				if err != nil {
					return err
				}
				adminToken = tok
			}
			cfg, cfgPath, err := loadConfig()
			if err != nil {
				return err
			}
			active := resolveProfileName(*profileName, cfg)
			prof := cfg.Profiles[active]
			if apiKey != "" {
				prof.APIKey = strings.TrimSpace(apiKey)
			}
			if adminToken != "" {
				prof.AdminToken = strings.TrimSpace(adminToken)
			}
			if cfg.Profiles == nil {
				cfg.Profiles = map[string]profile{}
			}
			cfg.Profiles[active] = prof
			if cfg.CurrentProfile == "" || *profileName != "" {
				cfg.CurrentProfile = active
			}
			if err := saveConfig(cfg, cfgPath); err != nil {
				return err
			}
			fmt.Printf("%s Credentials updated for '%s'\n", ui.ok("[OK]"), active)
			return nil
		},
	}
	set.Flags().StringVar(&apiKey, "api-key", "", "Agent API key")
	set.Flags().StringVar(&adminToken, "admin-token", "", "Admin bearer token")
	set.Flags().BoolVar(&promptTok, "prompt-admin-token", false, "Prompt for admin token without echo")

	show := &cobra.Command{
		Use:   "show",
		Short: "Show stored credentials (masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			active := resolveProfileName(*profileName, cfg)
			prof := cfg.Profiles[active]
			fmt.Printf("%s Profile: %s\n", ui.title("taskhub"), active)
			fmt.Printf("%s Base URL:    %s\n", ui.info("•"), emptyOr(prof.BaseURL, "<unset>"))
			fmt.Printf("%s Agent:       %s\n", ui.info("•"), emptyOr(prof.AgentName, "<unset>"))
			fmt.Printf("%s API key:     %s\n", ui.info("•"), maskToken(prof.APIKey))
			fmt.Printf("%s Admin token: %s\n", ui.info("•"), maskToken(prof.AdminToken))
			return nil
		},
	}

	clear := &cobra.Command{
		Use:   "clear",
		Short: "Clear stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := loadConfig()
			if err != nil {
				return err
			}
			active := resolveProfileName(*profileName, cfg)
			prof := cfg.Profiles[active]
			prof.APIKey = ""
			prof.AdminToken = ""
			cfg.Profiles[active] = prof
			if err := saveConfig(cfg, cfgPath); err != nil {
				return err
			}
			fmt.Printf("%s Credentials cleared for '%s'\n", ui.ok("[OK]"), active)
			return nil
		},
	}

	auth.AddCommand(set, show, clear)
	return auth
}

func agentCmd(baseURL, apiKey, profileName *string, ui *ui) *cobra.Command {
	agent := &cobra.Command{
		Use:   "agent",
		Short: "Agent operations",
	}

	var (
		name        string
		description string
		save        bool
	)
	register := &cobra.Command{
		Use:     "register",
		Short:   "Register a new agent",
		Example: "taskhub agent register --name alice",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(name) == "" {
				return errors.New("name is required")
			}
			c := newClient(*baseURL, "", "")
			body := map[string]any{"name": name}
			if description != "" {
				body["description"] = description
			}
			spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
			spin.Suffix = " Registering agent..."
			spin.Start()
			status, resp, err := c.request("POST", "/v1/taskhub/agents", body)
			spin.Stop()
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			var out agentResp
			if err := json.Unmarshal(resp, &out); err != nil {
				fmt.Println(string(resp))
				return nil
			}
			fmt.Printf("%s Agent registered: %s (%s)\n", ui.ok("[OK]"), out.Name, out.ID)
			fmt.Printf("%s Ledger address: %s\n", ui.info("•"), out.LedgerAddress)
			fmt.Printf("%s API key: %s\n", ui.warn("•"), out.APIKey)
			fmt.Println(ui.dim("The API key is shown only once. Store it now."))

			if save {
				cfg, cfgPath, err := loadConfig()
				if err != nil {
					return err
				}
				active := resolveProfileName(*profileName, cfg)
				prof := cfg.Profiles[active]
				prof.APIKey = out.APIKey
				prof.AgentID = out.ID
				prof.AgentName = out.Name
				if prof.BaseURL == "" {
					prof.BaseURL = strings.TrimRight(*baseURL, "/")
				}
				if cfg.Profiles == nil {
					cfg.Profiles = map[string]profile{}
				}
				cfg.Profiles[active] = prof
				if cfg.CurrentProfile == "" || *profileName != "" {
					cfg.CurrentProfile = active
				}
				if err := saveConfig(cfg, cfgPath); err != nil {
					return err
				}
				fmt.Printf("%s API key stored in profile '%s'\n", ui.ok("[OK]"), active)
			}
			return nil
		},
	}
	register.Flags().StringVar(&name, "name", "", "Unique agent name")
	register.Flags().StringVar(&description, "description", "", "Agent description")
	register.Flags().BoolVar(&save, "save", true, "Store the returned API key in the profile")

	me := &cobra.Command{
		Use:   "me",
		Short: "Show the authenticated agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(*baseURL, *apiKey, "")
			status, resp, err := c.request("GET", "/v1/taskhub/agents/me", nil)
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			fmt.Println(string(resp))
			return nil
		},
	}

	balance := &cobra.Command{
		Use:   "balance",
		Short: "Show the agent's ledger balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(*baseURL, *apiKey, "")
			spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
			spin.Suffix = " Querying ledger..."
			spin.Start()
			status, resp, err := c.request("GET", "/v1/taskhub/agents/me/balance", nil)
			spin.Stop()
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			var out struct {
				Address string `json:"address"`
				Balance string `json:"balance"`
			}
			if err := json.Unmarshal(resp, &out); err != nil {
				fmt.Println(string(resp))
				return nil
			}
			fmt.Printf("%s %s: %s\n", ui.ok("[OK]"), out.Address, out.Balance)
			return nil
		},
	}

	agent.AddCommand(register, me, balance)
	return agent
}

func taskCmd(baseURL, apiKey *string, ui *ui) *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Task operations",
	}

	var (
		title       string
		description string
		amount      string
		deadline    string
	)
	post := &cobra.Command{
		Use:     "post",
		Short:   "Post a bounty task",
		Example: "taskhub task post --title \"Write docs\" --amount 5.0",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(title) == "" {
				return errors.New("title is required")
			}
			if strings.TrimSpace(amount) == "" {
				return errors.New("amount is required")
			}
			c := newClient(*baseURL, *apiKey, "")
			body := map[string]any{
				"title":  title,
				"amount": json.Number(amount),
			}
			if description != "" {
				body["description"] = description
			}
			if deadline != "" {
				body["deadline"] = deadline
			}
			spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
			spin.Suffix = " Posting task..."
			spin.Start()
			status, resp, err := c.request("POST", "/v1/taskhub/tasks", body)
			spin.Stop()
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			var out taskResp
			if err := json.Unmarshal(resp, &out); err != nil {
				fmt.Println(string(resp))
				return nil
			}
			fmt.Printf("%s Task posted: %s\n", ui.ok("[OK]"), out.ID)
			return nil
		},
	}
	post.Flags().StringVar(&title, "title", "", "Task title")
	post.Flags().StringVar(&description, "description", "", "Task description")
	post.Flags().StringVar(&amount, "amount", "", "Bounty amount (decimal)")
	post.Flags().StringVar(&deadline, "deadline", "", "Deadline (RFC3339)")

	var (
		listStatus string
		skip       int
		limit      int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(*baseURL, *apiKey, "")
			q := url.Values{}
			if listStatus != "" {
				q.Set("status", listStatus)
			}
			if skip > 0 {
				q.Set("skip", fmt.Sprint(skip))
			}
			if limit > 0 {
				q.Set("limit", fmt.Sprint(limit))
			}
			path := "/v1/taskhub/tasks"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			status, resp, err := c.request("GET", path, nil)
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			var out struct {
				Tasks []taskResp `json:"tasks"`
			}
			if err := json.Unmarshal(resp, &out); err != nil {
				fmt.Println(string(resp))
				return nil
			}
			if len(out.Tasks) == 0 {
				fmt.Println(ui.dim("No tasks."))
				return nil
			}
			for _, t := range out.Tasks {
				fmt.Printf("%s %s %s %s\n", ui.info(t.ID), ui.ok(t.Amount), statusColor(ui, t.Status), t.Title)
			}
			return nil
		},
	}
	list.Flags().StringVar(&listStatus, "status", "", "Filter by status (open|claimed|submitted|approved|rejected)")
	list.Flags().IntVar(&skip, "skip", 0, "Offset")
	list.Flags().IntVar(&limit, "limit", 0, "Page size")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Get a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(*baseURL, *apiKey, "")
			status, resp, err := c.request("GET", "/v1/taskhub/tasks/"+url.PathEscape(args[0]), nil)
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			fmt.Println(string(resp))
			return nil
		},
	}

	claim := &cobra.Command{
		Use:   "claim <id>",
		Short: "Claim an open task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(*baseURL, *apiKey, "")
			spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
			spin.Suffix = " Claiming task..."
			spin.Start()
			status, resp, err := c.request("POST", "/v1/taskhub/tasks/"+url.PathEscape(args[0])+"/claim", nil)
			spin.Stop()
			if err != nil {
				return err
			}
			if status == http.StatusConflict {
				return errors.New("task already claimed by another agent")
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			fmt.Printf("%s Task claimed: %s\n", ui.ok("[OK]"), args[0])
			return nil
		},
	}

	var (
		content     string
		contentFile string
	)
	submit := &cobra.Command{
		Use:   "submit <id>",
		Short: "Submit work for a claimed task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if contentFile != "" {
				data, err := os.ReadFile(contentFile)
				if err != nil {
					return err
				}
				content = string(data)
			}
			if strings.TrimSpace(content) == "" {
				return errors.New("content is required (--content or --content-file)")
			}
			c := newClient(*baseURL, *apiKey, "")
			status, resp, err := c.request("POST", "/v1/taskhub/tasks/"+url.PathEscape(args[0])+"/submit", map[string]any{"content": content})
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			fmt.Printf("%s Work submitted for %s\n", ui.ok("[OK]"), args[0])
			return nil
		},
	}
	submit.Flags().StringVar(&content, "content", "", "Submission content")
	submit.Flags().StringVar(&contentFile, "content-file", "", "Read submission content from file")

	var (
		approve  bool
		reject   bool
		feedback string
	)
	review := &cobra.Command{
		Use:     "review <id>",
		Short:   "Approve or reject submitted work",
		Example: "taskhub task review <id> --approve",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approve == reject {
				return errors.New("pass exactly one of --approve or --reject")
			}
			c := newClient(*baseURL, *apiKey, "")
			body := map[string]any{"approved": approve}
			if feedback != "" {
				body["feedback"] = feedback
			}
			spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
			if approve {
				spin.Suffix = " Settling payout..."
			} else {
				spin.Suffix = " Recording rejection..."
			}
			spin.Start()
			status, resp, err := c.request("POST", "/v1/taskhub/tasks/"+url.PathEscape(args[0])+"/review", body)
			spin.Stop()
			if err != nil {
				return err
			}
			if status >= 300 {
				var errOut struct {
					Error string `json:"error"`
					Hint  string `json:"hint"`
				}
				_ = json.Unmarshal(resp, &errOut)
				if errOut.Hint != "" {
					fmt.Println(ui.warn("[WARN]"), errOut.Hint)
				}
				return fmt.Errorf("error (%d): %s", status, emptyOr(errOut.Error, string(resp)))
			}
			if approve {
				fmt.Printf("%s Task approved and settled: %s\n", ui.ok("[OK]"), args[0])
			} else {
				fmt.Printf("%s Task rejected: %s\n", ui.ok("[OK]"), args[0])
			}
			return nil
		},
	}
	review.Flags().BoolVar(&approve, "approve", false, "Approve the submission")
	review.Flags().BoolVar(&reject, "reject", false, "Reject the submission")
	review.Flags().StringVar(&feedback, "feedback", "", "Review feedback")

	var (
		wait        bool
		waitTimeout int
	)
	payout := &cobra.Command{
		Use:   "payout <id>",
		Short: "Show the settlement record for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(*baseURL, *apiKey, "")
			path := "/v1/taskhub/tasks/" + url.PathEscape(args[0]) + "/payout"

			if !wait {
				status, resp, err := c.request("GET", path, nil)
				if err != nil {
					return err
				}
				if status >= 300 {
					return fmt.Errorf("error (%d): %s", status, string(resp))
				}
				printPayout(ui, resp)
				return nil
			}

			if waitTimeout <= 0 {
				waitTimeout = 60
			}
			bar := progressbar.NewOptions(waitTimeout,
				progressbar.OptionSetDescription("Waiting for settlement"),
				progressbar.OptionSetWidth(18),
				progressbar.OptionClearOnFinish(),
			)
			deadline := time.Now().Add(time.Duration(waitTimeout) * time.Second)
			for {
				status, resp, err := c.request("GET", path, nil)
				if err == nil && status == http.StatusOK {
					var out payoutResp
					if json.Unmarshal(resp, &out) == nil && (out.Status == "completed" || out.Status == "failed") {
						_ = bar.Finish()
						printPayout(ui, resp)
						return nil
					}
				}
				if time.Now().After(deadline) {
					_ = bar.Finish()
					return errors.New("settlement still pending; try again or ask an operator to reconcile")
				}
				_ = bar.Add(2)
				time.Sleep(2 * time.Second)
			}
		},
	}
	payout.Flags().BoolVar(&wait, "wait", false, "Poll until the payout settles or fails")
	payout.Flags().IntVar(&waitTimeout, "timeout", 60, "Wait timeout in seconds")

	task.AddCommand(post, list, get, claim, submit, review, payout)
	return task
}

func adminCmd(baseURL, adminToken *string, ui *ui) *cobra.Command {
	reconcile := &cobra.Command{
		Use:     "reconcile <taskId>",
		Short:   "Re-drive a stuck settlement",
		Example: "taskhub admin reconcile 6f1c... --admin-token $TOKEN",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(*adminToken) == "" {
				return errors.New("admin token is required (run `taskhub auth set --prompt-admin-token`)")
			}
			c := newClient(*baseURL, "", *adminToken)
			spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
			spin.Suffix = " Reconciling settlement..."
			spin.Start()
			status, resp, err := c.adminRequest("POST", "/v1/taskhub/admin/payouts/"+url.PathEscape(args[0])+"/reconcile", nil)
			spin.Stop()
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			fmt.Printf("%s Settlement reconciled for %s\n", ui.ok("[OK]"), args[0])
			printPayout(ui, resp)
			return nil
		},
	}

	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Operator commands",
	}
	cmd.AddCommand(reconcile)
	return cmd
}

func printPayout(ui *ui, raw []byte) {
	var out payoutResp
	if err := json.Unmarshal(raw, &out); err != nil {
		fmt.Println(string(raw))
		return
	}
	fmt.Printf("%s: %s | %s: %v | %s: %v | fee=%d net=%d (10^-%d)\n",
		ui.title("payout"), statusColor(ui, out.Status),
		ui.info("fee leg"), out.FeeSettled,
		ui.info("bounty leg"), out.BountySettled,
		out.FeeAmount, out.NetAmount, out.Decimals,
	)
	if out.Error != "" {
		fmt.Println(ui.warn("[WARN]"), out.Error)
	}
}

func statusColor(ui *ui, status string) string {
	switch status {
	case "open", "completed", "approved":
		return ui.ok(status)
	case "claimed", "submitted", "pending":
		return ui.warn(status)
	case "failed", "rejected":
		return ui.err(status)
	default:
		return status
	}
}

func newClient(baseURL, apiKey, adminToken string) *client {
	return &client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		adminToken: adminToken,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func helpTemplate(ui *ui) string {
	title := ui.title("taskhub")
	return fmt.Sprintf(`%s — CLI for the TaskHub bounty marketplace

Usage:
  {{.UseLine}}

Commands:
{{range .Commands}}{{if (or .IsAvailableCommand .IsAdditionalHelpTopicCommand)}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

Flags:
  {{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}

Global Flags:
  {{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}

Config:
  %s

Examples:
  taskhub init
  taskhub agent register --name alice
  taskhub task post --title "Write docs" --amount 5.0
  taskhub task claim <id>
  taskhub task review <id> --approve
  taskhub task payout <id> --wait

`, title, configPath())
}

func configPath() string {
	if v := strings.TrimSpace(os.Getenv("TASKHUB_CONFIG_DIR")); v != "" {
		return filepath.Join(v, "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".taskhub", "config.yaml")
}

func promptSecret(label string) (string, error) {
	fmt.Printf("%s: ", label)
	b, err := termReadPassword()
	fmt.Println()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func termReadPassword() ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		return []byte(strings.TrimSpace(line)), err
	}
	return term.ReadPassword(fd)
}

func loadConfig() (cliConfig, string, error) {
	path := configPath()
	var cfg cliConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cliConfig{Profiles: map[string]profile{}}, path, nil
		}
		return cfg, path, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, path, err
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]profile{}
	}
	return cfg, path, nil
}

func saveConfig(cfg cliConfig, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func resolveProfileName(flag string, cfg cliConfig) string {
	if strings.TrimSpace(flag) != "" {
		return strings.TrimSpace(flag)
	}
	if v := strings.TrimSpace(os.Getenv("TASKHUB_PROFILE")); v != "" {
		return v
	}
	if cfg.CurrentProfile != "" {
		return cfg.CurrentProfile
	}
	return "default"
}

func prompt(r *bufio.Reader, label, def string) string {
	if def != "" {
		fmt.Printf("%s [%s]: ", label, def)
	} else {
		fmt.Printf("%s: ", label)
	}
	line, _ := r.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}

func maskToken(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "<unset>"
	}
	if len(v) <= 8 {
		return "****"
	}
	return v[:4] + "..." + v[len(v)-4:]
}

func emptyOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
