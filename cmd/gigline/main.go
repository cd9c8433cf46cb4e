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

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gigline/internal/app"
	"gigline/internal/config"
	"gigline/internal/db"
	"gigline/internal/domain"
	"gigline/internal/engine"
	"gigline/internal/migrate"
	"gigline/internal/repo"
	"gigline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "gigline",
	Short: "Gigline CLI",
	Long: `Gigline runs a gig-work marketplace: clients post jobs, workers apply,
one application wins, and the work is tracked stage by stage until the
payment clears.

- Jobs: posted by clients, statuses go DRAFT -> ACTIVE -> APPLIED ->
  IN_PROGRESS -> COMPLETED, with CANCELLED as the exit door.
- Applications: workers raise their hands; selecting one rejects the rest.
- Timeline: the worker's execution milestones, from accepting the job to
  finishing it.
- Workflow: the twelve-phase contract overlay ending in payment and a
  finalized invoice.
- Notifications: both sides get told when something happens to them.
- Event log: diary of changes, view with 'gigline log tail'.`,
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
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("GIGLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("actor-name", "", "actor display name")
	rootCmd.PersistentFlags().String("marketplace", "", "marketplace id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("actor-name", rootCmd.PersistentFlags().Lookup("actor-name"))
	_ = viper.BindPFlag("marketplace", rootCmd.PersistentFlags().Lookup("marketplace"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(applicationCmd())
	rootCmd.AddCommand(timelineCmd())
	rootCmd.AddCommand(workflowCmd())
	rootCmd.AddCommand(notifyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Marketplace configuration"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configImportCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default gigline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(id)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "gigline", "marketplace id")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
}

func configImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a config file into the marketplace store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file required")
			}
			cfg, err := config.FromFile(file)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.UpsertMarketplaceConfig(ctx, cfg.Marketplace.ID, cfg); err != nil {
					return err
				}
				fmt.Println("imported config for", cfg.Marketplace.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "config file path")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func statusCmd() *cobra.Command {
	var clientID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Marketplace status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.CountJobsByStatus(ctx, clientID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"marketplace_id": e.Config.Marketplace.ID,
					"job_counts":     counts,
				})
			})
		},
	}
	cmd.Flags().StringVar(&clientID, "client-id", "", "scope counts to one client")
	return cmd
}

func jobCmd() *cobra.Command {
	job := &cobra.Command{Use: "job", Short: "Manage jobs"}
	job.AddCommand(jobCreateCmd())
	job.AddCommand(jobListCmd())
	job.AddCommand(jobGetCmd())
	job.AddCommand(jobPublishCmd())
	job.AddCommand(jobStatusCmd())
	job.AddCommand(jobCancelCmd())
	job.AddCommand(jobAssignCmd())
	job.AddCommand(jobInvoiceCmd())
	return job
}

func jobCreateCmd() *cobra.Command {
	var opts engine.JobCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Post a job",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			if opts.ClientID == "" {
				opts.ClientID = opts.ActorID
			}
			if opts.ClientName == "" {
				opts.ClientName = viper.GetString("actor-name")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := e.CreateJob(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "job id (optional)")
	cmd.Flags().StringVar(&opts.ClientID, "client-id", "", "client id (defaults to --actor-id)")
	cmd.Flags().StringVar(&opts.ClientName, "client-name", "", "client display name")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.JobType, "type", "", "job type")
	cmd.Flags().Float64Var(&opts.Pay, "pay", 0, "pay amount")
	cmd.Flags().BoolVar(&opts.Draft, "draft", false, "stage as a draft without validation")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func jobListCmd() *cobra.Command {
	var f repo.JobFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				jobs, err := e.ListJobs(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(jobs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Type", "Pay", "Status", "Worker", "Phase"})
				for _, j := range jobs {
					worker := ""
					if j.WorkerID != nil {
						worker = *j.WorkerID
					}
					phase := ""
					if j.WorkflowPhase != nil {
						phase = *j.WorkflowPhase
					}
					tw.AppendRow(table.Row{j.ID, j.Title, j.JobType, j.Pay, j.Status, worker, phase})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ClientID, "client-id", "", "client filter")
	cmd.Flags().StringVar(&f.WorkerID, "worker-id", "", "worker filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.JobType, "type", "", "job type filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max results")
	return cmd
}

func jobGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := e.GetJob(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
}

func jobPublishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish <job-id>",
		Short: "Publish a draft job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, ok, err := e.PublishDraft(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("job %s is not a draft", args[0])
				}
				return printJSONOrTable(j)
			})
		},
	}
}

func jobStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Move a job's status forward",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ok, err := e.UpdateJobStatus(ctx, args[0], status, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("status may only move forward (use 'job cancel' for cancellation)")
				}
				j, err := e.GetJob(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "target status")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func jobCancelCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ok, err := e.CancelJob(ctx, args[0], reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("job can only be cancelled while ACTIVE or IN_PROGRESS")
				}
				j, err := e.GetJob(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "cancellation reason")
	return cmd
}

func jobAssignCmd() *cobra.Command {
	var workerID, workerName string
	cmd := &cobra.Command{
		Use:   "assign <job-id>",
		Short: "Assign a worker directly",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if workerID == "" {
				return fmt.Errorf("--worker required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ok, err := e.AssignWorker(ctx, args[0], workerID, workerName, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("job already has a worker or is past assignment")
				}
				j, err := e.GetJob(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().StringVar(&workerID, "worker", "", "worker id")
	cmd.Flags().StringVar(&workerName, "worker-name", "", "worker display name")
	return cmd
}

func jobInvoiceCmd() *cobra.Command {
	var invoiceID string
	cmd := &cobra.Command{
		Use:   "invoice <job-id>",
		Short: "Create the job invoice",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ok, err := e.CreateInvoice(ctx, args[0], invoiceID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("job already has an invoice")
				}
				j, err := e.GetJob(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().StringVar(&invoiceID, "invoice-id", "", "invoice id (optional)")
	return cmd
}

func applicationCmd() *cobra.Command {
	appCmd := &cobra.Command{Use: "app", Short: "Manage applications"}
	appCmd.AddCommand(appApplyCmd())
	appCmd.AddCommand(appListCmd())
	appCmd.AddCommand(appSelectCmd())
	appCmd.AddCommand(appRejectCmd())
	appCmd.AddCommand(appWithdrawCmd())
	appCmd.AddCommand(appMineCmd())
	return appCmd
}

func appApplyCmd() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "apply <job-id>",
		Short: "Apply to a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, ok, err := e.Apply(ctx, engine.ApplyOptions{
					JobID:      args[0],
					WorkerID:   viper.GetString("actor-id"),
					WorkerName: viper.GetString("actor-name"),
					Message:    message,
				})
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("job is not accepting applications or you already applied")
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&message, "message", "", "message to the client")
	return cmd
}

func appListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list <job-id>",
		Short: "List applications for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				apps, err := e.Repo.ListApplicationsByJob(ctx, args[0], status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(apps)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Worker", "Name", "Status", "Applied", "Message"})
				for _, a := range apps {
					tw.AppendRow(table.Row{a.WorkerID, a.WorkerName, a.Status, a.AppliedAt, a.Message})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func appSelectCmd() *cobra.Command {
	var workerID string
	cmd := &cobra.Command{
		Use:   "select <job-id>",
		Short: "Select the winning application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if workerID == "" {
				return fmt.Errorf("--worker required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ok, err := e.SelectWorker(ctx, args[0], workerID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("a worker was already selected or the application is not pending")
				}
				j, err := e.GetJob(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().StringVar(&workerID, "worker", "", "worker id")
	return cmd
}

func appRejectCmd() *cobra.Command {
	var workerID string
	cmd := &cobra.Command{
		Use:   "reject <job-id>",
		Short: "Reject one application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if workerID == "" {
				return fmt.Errorf("--worker required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ok, err := e.RejectWorker(ctx, args[0], workerID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("application is not pending")
				}
				fmt.Println("rejected", workerID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&workerID, "worker", "", "worker id")
	return cmd
}

func appWithdrawCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw <job-id>",
		Short: "Withdraw my application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ok, err := e.Withdraw(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no pending application to withdraw")
				}
				fmt.Println("withdrawn")
				return nil
			})
		},
	}
}

func appMineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mine",
		Short: "List my applications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				apps, err := e.ApplicationsByWorker(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(apps)
			})
		},
	}
}

func timelineCmd() *cobra.Command {
	tl := &cobra.Command{Use: "timeline", Short: "Execution timeline"}
	tl.AddCommand(timelineShowCmd())
	tl.AddCommand(timelineAdvanceCmd())
	tl.AddCommand(timelineCompleteCmd())
	return tl
}

func timelineShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show the timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.GetTimeline(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				fmt.Printf("%s  stage=%s  worker=%s\n", t.JobID, t.CurrentStage, t.WorkerID)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Stage", "Actor", "Message", "At"})
				for _, evt := range t.Events {
					tw.AppendRow(table.Row{evt.Stage, evt.ActorID, evt.Message, evt.TS})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func timelineAdvanceCmd() *cobra.Command {
	var stage, message string
	cmd := &cobra.Command{
		Use:   "advance <job-id>",
		Short: "Record a stage milestone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if stage == "" {
				return fmt.Errorf("--stage required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ok, err := e.AdvanceStage(ctx, args[0], stage, message, viper.GetString("actor-id"), viper.GetString("actor-name"))
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("stage may only move forward along %s", strings.Join(domain.Stages(), " -> "))
				}
				t, err := e.GetTimeline(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "target stage")
	cmd.Flags().StringVar(&message, "message", "", "progress note")
	return cmd
}

func timelineCompleteCmd() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "complete <job-id>",
		Short: "Mark the work finished",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ok, err := e.MarkCompleted(ctx, args[0], message, viper.GetString("actor-id"), viper.GetString("actor-name"))
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("work is already marked finished")
				}
				j, err := e.GetJob(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().StringVar(&message, "message", "", "completion note")
	return cmd
}

func workflowCmd() *cobra.Command {
	wf := &cobra.Command{Use: "workflow", Short: "Contract workflow phases"}
	wf.AddCommand(workflowShowCmd())
	wf.AddCommand(workflowStepCmd("advance", "Advance one phase", func(e engine.Engine, ctx context.Context, jobID, actor string) (domain.Job, bool, error) {
		return e.AdvancePhase(ctx, jobID, actor)
	}))
	wf.AddCommand(workflowEvidenceCmd())
	wf.AddCommand(workflowSubmitCmd())
	wf.AddCommand(workflowStepCmd("confirm", "Confirm completion", func(e engine.Engine, ctx context.Context, jobID, actor string) (domain.Job, bool, error) {
		return e.ConfirmCompletion(ctx, jobID, actor)
	}))
	wf.AddCommand(workflowPayCmd())
	wf.AddCommand(workflowProofCmd())
	wf.AddCommand(workflowStepCmd("receipt", "Confirm payment receipt", func(e engine.Engine, ctx context.Context, jobID, actor string) (domain.Job, bool, error) {
		return e.ConfirmReceipt(ctx, jobID, actor)
	}))
	wf.AddCommand(workflowStepCmd("finalize", "Finalize the workflow", func(e engine.Engine, ctx context.Context, jobID, actor string) (domain.Job, bool, error) {
		return e.FinalizeWorkflow(ctx, jobID, actor)
	}))
	return wf
}

func workflowShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show phase and progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := e.GetJob(ctx, args[0])
				if err != nil {
					return err
				}
				out := map[string]any{
					"job_id":      j.ID,
					"can_advance": engine.CanAdvance(j),
				}
				if j.WorkflowPhase != nil {
					out["phase"] = *j.WorkflowPhase
					out["progress"] = engine.ProgressPercent(*j.WorkflowPhase)
					if next, ok := engine.NextPhase(*j.WorkflowPhase); ok {
						out["next_phase"] = next
					}
				}
				return printJSONOrTable(out)
			})
		},
	}
}

func workflowStepCmd(use, short string, run func(engine.Engine, context.Context, string, string) (domain.Job, bool, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <job-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, ok, err := run(e, ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("workflow is not at the step before this one")
				}
				return printJSONOrTable(j)
			})
		},
	}
}

func workflowEvidenceCmd() *cobra.Command {
	var files []string
	cmd := &cobra.Command{
		Use:   "evidence <job-id>",
		Short: "Upload work evidence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(files) == 0 {
				return fmt.Errorf("--file required at least once")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, ok, err := e.UploadEvidence(ctx, args[0], files, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("workflow is not at the step before this one")
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().StringArrayVar(&files, "file", []string{}, "evidence file reference (repeatable)")
	return cmd
}

func workflowSubmitCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "submit <job-id>",
		Short: "Submit completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, ok, err := e.SubmitCompletion(ctx, args[0], note, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("workflow is not at the step before this one")
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "completion note")
	return cmd
}

func workflowPayCmd() *cobra.Command {
	var amount float64
	cmd := &cobra.Command{
		Use:   "pay <job-id>",
		Short: "Start payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, ok, err := e.StartPayment(ctx, args[0], amount, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("workflow is not at the step before this one")
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().Float64Var(&amount, "amount", 0, "payment amount (defaults to the job's pay)")
	return cmd
}

func workflowProofCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "proof <job-id>",
		Short: "Upload payment proof",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if url == "" {
				return fmt.Errorf("--url required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, ok, err := e.UploadPaymentProof(ctx, args[0], url, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("workflow is not at the step before this one")
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "proof URL")
	return cmd
}

func notifyCmd() *cobra.Command {
	n := &cobra.Command{Use: "notify", Short: "Notification feed"}
	n.AddCommand(notifyListCmd())
	n.AddCommand(notifyReadCmd())
	n.AddCommand(notifyClearCmd())
	return n
}

func notifyListCmd() *cobra.Command {
	var notifType string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List my notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor := viper.GetString("actor-id")
				var feed []domain.Notification
				var err error
				if notifType != "" {
					feed, err = e.NotificationsByType(ctx, actor, notifType)
				} else {
					feed, err = e.Notifications(ctx, actor, limit)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(feed)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Title", "Read", "At"})
				for _, item := range feed {
					tw.AppendRow(table.Row{item.ID, item.Type, item.Title, item.IsRead, item.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&notifType, "type", "", "type filter")
	cmd.Flags().IntVar(&limit, "limit", 0, "max results")
	return cmd
}

func notifyReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <notification-id>",
		Short: "Mark a notification read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ok, err := e.MarkNotificationRead(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("notification %s not found", args[0])
				}
				fmt.Println("read")
				return nil
			})
		},
	}
}

func notifyClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear my notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				removed, err := e.ClearNotifications(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				fmt.Println("removed", removed)
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: job changes, selections, stage milestones, payments.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, jobID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, jobID, evtType, "", "")
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&jobID, "job", "", "job id filter")
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "API keys for the HTTP server"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyDeleteCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (the raw key prints once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				actorID = viper.GetString("actor-id")
			}
			raw := uuid.New().String() + uuid.New().String()
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				key := domain.APIKey{
					ID:        uuid.New().String(),
					ActorID:   actorID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(raw),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				fmt.Println(raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor id (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor filter")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Seed demo jobs and applications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				demos := []engine.JobCreateOptions{
					{ClientID: "demo-client-1", ClientName: "Alice", Title: "Deep clean a two-bedroom flat", Description: "Kitchen, bathroom, windows.", JobType: "cleaning", Pay: 120},
					{ClientID: "demo-client-1", ClientName: "Alice", Title: "Move a sofa across town", Description: "Third floor, no elevator.", JobType: "moving", Pay: 80},
					{ClientID: "demo-client-2", ClientName: "Bob", Title: "Fix a leaking tap", Description: "Kitchen tap drips overnight.", JobType: "repair", Pay: 45},
				}
				for _, opts := range demos {
					opts.ActorID = opts.ClientID
					j, err := e.CreateJob(ctx, opts)
					if err != nil {
						return err
					}
					for i, worker := range []string{"demo-worker-1", "demo-worker-2"} {
						_, ok, err := e.Apply(ctx, engine.ApplyOptions{
							JobID:      j.ID,
							WorkerID:   worker,
							WorkerName: fmt.Sprintf("Worker %d", i+1),
							Message:    "Happy to help.",
						})
						if err != nil {
							return err
						}
						if !ok {
							break
						}
					}
					fmt.Println("seeded job", j.ID, "-", j.Title)
				}
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacy bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveMarketplaceConfig(ctx, workspace, viper.GetString("marketplace"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("GIGLINE_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacy,
			}
			if authCfg.JWTSecret == "" && !allowLegacy {
				return fmt.Errorf("GIGLINE_JWT_SECRET is required for bearer auth (or pass --allow-legacy-actor-header)")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-ctx.Done()
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(sctx)
			}()
			fmt.Printf("Serving Gigline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacy, "allow-legacy-actor-header", false, "accept unauthenticated X-Actor-Id (dev only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveMarketplaceConfig(ctx, workspace, viper.GetString("marketplace"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
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
