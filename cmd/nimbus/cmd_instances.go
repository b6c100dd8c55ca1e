package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/nimbus/internal/filter"
	"github.com/yairfalse/nimbus/internal/orchestrator"
	"github.com/yairfalse/nimbus/pkg/resource"
)

var (
	createSpec       resource.InstanceSpec
	createTags       []string
	terminateConfirm string
	listStates       []string
	listTags         []string
	listExcludeTags  []string
)

var instancesCmd = &cobra.Command{
	Use:     "instances",
	Aliases: []string{"instance", "ec2"},
	Short:   "Manage compute instances",
	Long: `Manage compute instances.

Start, stop and terminate issue the request and then poll the instance
until it reaches the target state or the wait budget runs out. A
transition that is not valid from the current state is rejected before
any request is sent.`,
}

var instancesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List instances",
	Example: `  nimbus instances list
  nimbus instances list --state running --tag env=prod
  nimbus instances list --exclude-tag team=sandbox -o json`,
	Args: cobra.NoArgs,
	RunE: runE(func(ctx context.Context, a *app) error {
		f, err := listFilter()
		if err != nil {
			return err
		}
		instances, err := a.orch.ListInstances(ctx)
		if err != nil {
			return err
		}
		instances = f.Instances(instances)
		return a.out.print(instances, func(w io.Writer) error {
			rows := make([][]string, len(instances))
			for i, in := range instances {
				rows[i] = []string{in.ID.String(), in.Name, string(in.State), in.Type, formatTime(in.LaunchTime)}
			}
			return writeTable(w, []string{"ID", "NAME", "STATE", "TYPE", "LAUNCHED"}, rows)
		})
	}),
}

var instancesStatusCmd = &cobra.Command{
	Use:   "status <instance-id>",
	Short: "Show the current state of an instance",
	Args:  cobra.ExactArgs(1),
	RunE: withArgs(func(ctx context.Context, a *app, args []string) error {
		h := resource.Handle(args[0])
		state, err := a.orch.InstanceStatus(ctx, h)
		if err != nil {
			return err
		}
		v := map[string]string{"instance_id": h.String(), "state": string(state)}
		return a.out.print(v, func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "%s\t%s\n", h, state)
			return err
		})
	}),
}

var instancesCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Launch an instance",
	Example: `  nimbus instances create --image ami-0abc --type t3.micro
  nimbus instances create --image ami-0abc --type t3.micro --tag Name=web --tag env=dev`,
	Args: cobra.NoArgs,
	RunE: runE(func(ctx context.Context, a *app) error {
		spec := createSpec
		tags, err := parseTags(createTags)
		if err != nil {
			return &usageError{err: err}
		}
		spec.Tags = tags

		inst, err := a.orch.CreateInstance(ctx, spec)
		if err != nil {
			return err
		}
		return a.out.print(inst, func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "%s\t%s\n", inst.ID, inst.State)
			return err
		})
	}),
}

var instancesStartCmd = &cobra.Command{
	Use:   "start <instance-id>",
	Short: "Start a stopped instance and wait until it is running",
	Args:  cobra.ExactArgs(1),
	RunE: withArgs(func(ctx context.Context, a *app, args []string) error {
		res, err := a.orch.StartInstance(ctx, resource.Handle(args[0]))
		return printTransition(a, res, err)
	}),
}

var instancesStopCmd = &cobra.Command{
	Use:   "stop <instance-id>",
	Short: "Stop a running instance and wait until it is stopped",
	Args:  cobra.ExactArgs(1),
	RunE: withArgs(func(ctx context.Context, a *app, args []string) error {
		res, err := a.orch.StopInstance(ctx, resource.Handle(args[0]))
		return printTransition(a, res, err)
	}),
}

var instancesTerminateCmd = &cobra.Command{
	Use:   "terminate <instance-id> --confirm <instance-id>",
	Short: "Terminate an instance and wait until it is gone",
	Long: `Terminate an instance and wait until it is gone.

Termination cannot be undone. --confirm must repeat the instance id.`,
	Example: `  nimbus instances terminate i-0abc --confirm i-0abc`,
	Args:    cobra.ExactArgs(1),
	RunE: withArgs(func(ctx context.Context, a *app, args []string) error {
		res, err := a.orch.TerminateInstance(ctx, resource.Handle(args[0]), terminateConfirm)
		return printTransition(a, res, err)
	}),
}

var instancesConsoleCmd = &cobra.Command{
	Use:   "console <instance-id>",
	Short: "Print the latest console output of an instance",
	Args:  cobra.ExactArgs(1),
	RunE: withArgs(func(ctx context.Context, a *app, args []string) error {
		h := resource.Handle(args[0])
		out, err := a.orch.ConsoleOutput(ctx, h)
		if err != nil {
			return err
		}
		v := map[string]string{"instance_id": h.String(), "output": out}
		return a.out.print(v, func(w io.Writer) error {
			_, err := io.WriteString(w, out)
			return err
		})
	}),
}

func init() {
	rootCmd.AddCommand(instancesCmd)
	instancesCmd.AddCommand(
		instancesListCmd,
		instancesStatusCmd,
		instancesCreateCmd,
		instancesStartCmd,
		instancesStopCmd,
		instancesTerminateCmd,
		instancesConsoleCmd,
	)

	lf := instancesListCmd.Flags()
	lf.StringSliceVar(&listStates, "state", nil, "Only list instances in these states")
	lf.StringArrayVar(&listTags, "tag", nil, "Only list instances with this key=value tag (repeatable)")
	lf.StringArrayVar(&listExcludeTags, "exclude-tag", nil, "Skip instances with this key=value tag (repeatable)")

	f := instancesCreateCmd.Flags()
	f.StringVar(&createSpec.ImageID, "image", "", "Image (AMI) id")
	f.StringVar(&createSpec.InstanceType, "type", "", "Instance type, e.g. t3.micro")
	f.StringVar(&createSpec.KeyName, "key-name", "", "SSH key pair name")
	f.StringVar(&createSpec.SubnetID, "subnet", "", "Subnet id")
	f.StringSliceVar(&createSpec.SecurityGroupIDs, "security-group", nil, "Security group ids")
	f.StringArrayVar(&createTags, "tag", nil, "Tag as key=value (repeatable)")

	instancesTerminateCmd.Flags().StringVar(&terminateConfirm, "confirm", "", "Repeat the instance id to confirm termination")
}

// withArgs is runE for commands that take positional arguments.
func withArgs(fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return runE(func(ctx context.Context, a *app) error {
			return fn(ctx, a, args)
		})(cmd, args)
	}
}

// printTransition prints the outcome of a lifecycle transition. A failed wait
// still reports how far the instance got.
func printTransition(a *app, res orchestrator.TransitionResult, err error) error {
	if err != nil {
		if res.Attempts > 0 {
			_ = a.out.print(res, func(w io.Writer) error { return writeTransition(w, res) })
		}
		return err
	}
	return a.out.print(res, func(w io.Writer) error { return writeTransition(w, res) })
}

func writeTransition(w io.Writer, res orchestrator.TransitionResult) error {
	if _, err := fmt.Fprintf(w, "%s: %s -> %s (%d observations, %s)\n",
		res.Handle, res.From, res.To, res.Attempts, res.Elapsed.Round(time.Millisecond)); err != nil {
		return err
	}
	for _, t := range res.Transitions {
		from := string(t.From)
		if from == "" {
			from = "-"
		}
		if _, err := fmt.Fprintf(w, "  #%d %s  %s -> %s\n", t.Attempt, t.At.Format(time.TimeOnly), from, t.To); err != nil {
			return err
		}
	}
	return nil
}

// listFilter builds the instance filter from the list flags.
func listFilter() (*filter.Filter, error) {
	states := make([]resource.State, 0, len(listStates))
	for _, name := range listStates {
		s := resource.ParseState(strings.ToLower(name))
		if s == resource.StateUnknown {
			return nil, &usageError{err: fmt.Errorf("unknown state %q", name)}
		}
		states = append(states, s)
	}
	include, err := parseTags(listTags)
	if err != nil {
		return nil, &usageError{err: err}
	}
	exclude, err := parseTags(listExcludeTags)
	if err != nil {
		return nil, &usageError{err: err}
	}
	return filter.New(states, include, exclude), nil
}

// parseTags turns key=value pairs into a map.
func parseTags(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	tags := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("tag %q: want key=value", p)
		}
		tags[k] = v
	}
	return tags, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

// sortedKeys returns the keys of m in order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
