package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"forgeline/internal/approval"
	"forgeline/internal/capability"
	"forgeline/internal/config"
	"forgeline/internal/events"
	"forgeline/internal/lock"
	"forgeline/internal/orchestrator"
	"forgeline/internal/runstate"
	"forgeline/internal/workflow"
)

// loadConfig reads the engine config, honoring the --config flag.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, fmt.Errorf("invalid config:\n  %s", strings.Join(msgs, "\n  "))
	}
	return cfg, nil
}

// newEngine assembles an orchestrator and its collaborators from config.
// interactive selects a terminal approver; otherwise decisions defer and
// the run pauses at every checkpoint.
func newEngine(cmd *cobra.Command, interactive, allowProtected bool) (*orchestrator.Orchestrator, *config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}

	var approver approval.Approver = approval.Deferred{}
	if interactive {
		approver = &approval.Terminal{In: cmd.InOrStdin(), Out: cmd.OutOrStdout()}
	}

	o := orchestrator.New(orchestrator.Options{
		Store:            runstate.NewStore(cfg.RunsDir()),
		Events:           events.NewLog(cfg.RunsDir()),
		Locks:            lock.NewManager(cfg.LocksDir(), cfg.LockStaleAfter),
		Caps:             buildRegistry(cfg),
		Approver:         approver,
		Source:           workflow.NewDirSource(cfg.WorkflowsDir),
		ProtectedTargets: cfg.ProtectedTargets,
		AllowProtected:   allowProtected,
	})
	o.SetProgress(cmd.OutOrStdout())
	return o, cfg, nil
}

// buildRegistry turns configured capabilities into exec-backed invokers
// and recovery handlers.
func buildRegistry(cfg *config.Config) *capability.Registry {
	var fallback capability.Invoker
	if cfg.DefaultCapability != "" {
		c := cfg.Capabilities[cfg.DefaultCapability]
		fallback = capability.NewExecCapability(c.Command, cfg.Workdir, timeoutOr(c.Timeout, cfg.CapabilityTimeout))
	}
	reg := capability.NewRegistry(fallback)
	for name, c := range cfg.Capabilities {
		reg.Register(name, capability.NewExecCapability(c.Command, cfg.Workdir, timeoutOr(c.Timeout, cfg.CapabilityTimeout)))
	}
	for name, c := range cfg.RecoveryHandlers {
		reg.RegisterRecoverer(name, capability.NewExecCapability(c.Command, cfg.Workdir, timeoutOr(c.Timeout, cfg.CapabilityTimeout)))
	}
	return reg
}

func timeoutOr(t, fallback time.Duration) time.Duration {
	if t > 0 {
		return t
	}
	return fallback
}
