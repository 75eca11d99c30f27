package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskdeck/internal/app"
	"taskdeck/internal/db"
	"taskdeck/internal/domain"
	"taskdeck/internal/events"
	"taskdeck/internal/notify"
	"taskdeck/internal/realtime"
	"taskdeck/internal/server"
	"taskdeck/internal/store"
	"taskdeck/internal/transport"
	"taskdeck/internal/views"
)

var rootCmd = &cobra.Command{
	Use:   "td",
	Short: "Taskdeck CLI",
	Long: `Taskdeck is a shared task list with live sync.
- Workspace: your .taskdeck box holding the local database (stored
  credential) and taskdeck.yml config.
- Tasks: titles with a status (pending -> in_progress -> completed);
  deleting deactivates first and falls back to a hard delete when the
  server has no soft-delete endpoint.
- Assignments: any set of users per task, replaced wholesale.
- History: the activity timeline, grouped per task.
- Watch: follow live task events from the push channel and collect
  notifications the way the interactive client would.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKDECK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("base-url", "", "API base URL (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("base-url", rootCmd.PersistentFlags().Lookup("base-url"))
}

func registerCommands() {
	rootCmd.AddCommand(registerCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(meCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(usersCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(serveCmd())
}

func registerCmd() *cobra.Command {
	var name, email, password string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and store the credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				if err := env.Session.Register(ctx, name, email, password); err != nil {
					return err
				}
				fmt.Printf("Registered %s; credential stored in %s\n", email, db.Path(env.Workspace))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "email")
	cmd.Flags().StringVar(&password, "password", "", "password")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				if err := env.Session.Login(ctx, email, password); err != nil {
					return err
				}
				fmt.Printf("Logged in as %s\n", email)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email")
	cmd.Flags().StringVar(&password, "password", "", "password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Discard the stored credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				if err := env.Session.Logout(ctx); err != nil {
					return err
				}
				fmt.Println("Logged out")
				return nil
			})
		},
	}
}

func meCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show the authenticated user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, env *app.Env, c *transport.Client) error {
				u, err := c.Me(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskDoneCmd())
	task.AddCommand(taskDeleteCmd())
	task.AddCommand(taskAssignCmd())
	return task
}

func taskListCmd() *cobra.Command {
	var tab, search string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := views.TaskFilter{Search: search}
			var err error
			if f.Tab, err = parseTab(tab); err != nil {
				return err
			}
			return withClient(cmd.Context(), func(ctx context.Context, env *app.Env, c *transport.Client) error {
				tasks, err := c.ListTasks(ctx)
				if err != nil {
					return err
				}
				tasks = views.Tasks(tasks, f)
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Rev", "Assignees", "Creator"})
				for _, t := range tasks {
					names := make([]string, 0, len(t.AssignedUsers))
					for _, u := range t.AssignedUsers {
						names = append(names, u.Name)
					}
					creator := ""
					if t.CreatedBy != nil {
						creator = t.CreatedBy.Name
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.Revision, strings.Join(names, ", "), creator})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tab, "tab", "all", "tab (all, pending, completed, deleted, assigned-to-me, created-by-me)")
	cmd.Flags().StringVar(&search, "search", "", "search in title and description")
	return cmd
}

func taskCreateCmd() *cobra.Command {
	var title, description string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, env *app.Env, c *transport.Client) error {
				t, err := c.CreateTask(ctx, title, description)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var title, description, status string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch domain.TaskPatch
			if cmd.Flags().Changed("title") {
				patch.Title = &title
			}
			if cmd.Flags().Changed("description") {
				patch.Description = &description
			}
			if cmd.Flags().Changed("status") {
				st := domain.Status(status)
				if !domain.ValidStatus(st) {
					return fmt.Errorf("invalid status %q", status)
				}
				patch.Status = &st
			}
			return withClient(cmd.Context(), func(ctx context.Context, env *app.Env, c *transport.Client) error {
				t, err := c.UpdateTask(ctx, args[0], patch)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringVar(&status, "status", "", "new status (pending, in_progress, completed)")
	return cmd
}

func taskDoneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "done <id>",
		Short: "Mark a task completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			completed := domain.StatusCompleted
			return withClient(cmd.Context(), func(ctx context.Context, env *app.Env, c *transport.Client) error {
				t, err := c.UpdateTask(ctx, args[0], domain.TaskPatch{Status: &completed})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Deactivate a task (hard delete when unsupported)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, env *app.Env, c *transport.Client) error {
				t, err := c.SoftDeleteTask(ctx, args[0])
				switch transport.KindOf(err) {
				case transport.KindNotFound, transport.KindMethodNotAllowed:
					if err := c.DeleteTask(ctx, args[0]); err != nil {
						return err
					}
					fmt.Printf("Deleted %s\n", args[0])
					return nil
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskAssignCmd() *cobra.Command {
	var userIDs []string
	cmd := &cobra.Command{
		Use:   "assign <id>",
		Short: "Replace a task's assignees",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, env *app.Env, c *transport.Client) error {
				t, err := c.AssignTask(ctx, args[0], userIDs)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringArrayVar(&userIDs, "user", []string{}, "user id (repeatable; none clears)")
	return cmd
}

func usersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List users with task counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, env *app.Env, c *transport.Client) error {
				users, err := c.ListUsers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Email", "Tasks"})
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Name, u.Email, u.TaskCount})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func historyCmd() *cobra.Command {
	var search, action, userID, from, to string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the activity timeline grouped by task",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := views.HistoryFilter{Search: search, Action: domain.Action(action), UserID: userID}
			var err error
			if f.From, err = parseDate(from); err != nil {
				return err
			}
			if f.To, err = parseDate(to); err != nil {
				return err
			}
			return withClient(cmd.Context(), func(ctx context.Context, env *app.Env, c *transport.Client) error {
				events, err := c.ListHistory(ctx)
				if err != nil {
					return err
				}
				groups := views.History(events, f)
				if viper.GetBool("json") {
					return printJSON(groups)
				}
				for _, g := range groups {
					fmt.Printf("%s (%s)\n", g.Task.Title, g.Task.ID)
					for _, ev := range g.Events {
						fmt.Printf("  %s  %-10s %s  %s\n", ev.Timestamp, ev.Action, ev.User.Name, ev.Detail)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "search in task title, user and detail")
	cmd.Flags().StringVar(&action, "action", "", "action filter (created, updated, deleted, assigned, completed)")
	cmd.Flags().StringVar(&userID, "user", "", "user id filter")
	cmd.Flags().StringVar(&from, "from", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "end date (YYYY-MM-DD)")
	return cmd
}

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow live task events from the push channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, env *app.Env, c *transport.Client) error {
				if env.Config.Realtime.RedisAddr == "" {
					return fmt.Errorf("config.realtime.redis_addr is required for watch")
				}
				st := store.New(c, env.Log)
				queue := notify.NewQueue()
				st.Subscribe(queue.Observe)
				st.Subscribe(func(m store.Mutation) {
					if n, ok := notify.Render(m); ok {
						fmt.Printf("%s [%s] %s\n", time.Now().Format(time.RFC3339), n.Severity, n.Message)
					}
				})

				rc := redis.NewClient(&redis.Options{Addr: env.Config.Realtime.RedisAddr})
				defer rc.Close()
				ch := realtime.NewRedis(rc, env.Log)
				defer ch.Close()
				sub, err := ch.Subscribe(env.Config.Realtime.Channel, "", func(ev realtime.Event) {
					if kind, ok := remoteKind(ev.Kind); ok {
						st.ApplyRemoteEvent(kind, ev.Task)
					}
				})
				if err != nil {
					return err
				}
				defer sub.Unsubscribe()

				if err := st.LoadAll(ctx); err != nil {
					return err
				}
				fmt.Printf("Watching %q on %s (%d tasks); ctrl-c to stop\n",
					env.Config.Realtime.Channel, env.Config.Realtime.RedisAddr, st.Len())
				<-ctx.Done()
				return nil
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the development task API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				secret := os.Getenv("TASKDECK_JWT_SECRET")
				if secret == "" {
					secret = env.Config.Server.JWTSecret
				}
				if secret == "" {
					return fmt.Errorf("TASKDECK_JWT_SECRET or config.server.jwt_secret is required")
				}
				pub := events.Publisher{Channel: env.Config.Realtime.Channel, Log: env.Log}
				if env.Config.Realtime.RedisAddr != "" {
					rc := redis.NewClient(&redis.Options{Addr: env.Config.Realtime.RedisAddr})
					defer rc.Close()
					pub.RC = rc
				}
				handler, err := server.New(server.Config{
					Repo:              env.Repo,
					Auth:              server.AuthConfig{JWTSecret: secret},
					Publisher:         pub,
					BasePath:          basePath,
					DisableSoftDelete: env.Config.Server.DisableSoftDelete,
					Log:               env.Log,
				})
				if err != nil {
					return err
				}
				if addr == "" {
					addr = env.Config.Server.Addr
				}
				if addr == "" {
					addr = "127.0.0.1:8000"
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving task API on http://%s%s\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config)")
	cmd.Flags().StringVar(&basePath, "base-path", "/api", "API base path")
	return cmd
}

// --- helpers ---

func withEnv(ctx context.Context, fn func(context.Context, *app.Env) error) error {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	env, err := app.Open(viper.GetString("workspace"), viper.GetString("base-url"), log)
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(ctx, env)
}

func withClient(ctx context.Context, fn func(context.Context, *app.Env, *transport.Client) error) error {
	return withEnv(ctx, func(ctx context.Context, env *app.Env) error {
		c, err := env.Session.Client(ctx)
		if err != nil {
			return err
		}
		return fn(ctx, env, c)
	})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseTab(s string) (views.Tab, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return views.TabAll, nil
	case "pending":
		return views.TabPending, nil
	case "completed":
		return views.TabCompleted, nil
	case "deleted":
		return views.TabDeleted, nil
	case "assigned-to-me", "mine":
		return views.TabAssignedToMe, nil
	case "created-by-me":
		return views.TabCreatedByMe, nil
	}
	return views.TabAll, fmt.Errorf("unknown tab %q", s)
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", s)
	}
	return t, nil
}

func remoteKind(event string) (store.RemoteKind, bool) {
	switch event {
	case realtime.TaskCreatedEvent:
		return store.RemoteCreated, true
	case realtime.TaskUpdatedEvent:
		return store.RemoteUpdated, true
	case realtime.TaskDeletedEvent:
		return store.RemoteDeleted, true
	}
	return "", false
}
