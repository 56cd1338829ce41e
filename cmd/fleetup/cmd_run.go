package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/fleetup/fleetup/pkg/catalog"
	"github.com/fleetup/fleetup/pkg/device"
	"github.com/fleetup/fleetup/pkg/fleet"
	"github.com/fleetup/fleetup/pkg/imagestore"
	"github.com/fleetup/fleetup/pkg/oui"
	"github.com/fleetup/fleetup/pkg/parse"
	"github.com/fleetup/fleetup/pkg/report"
	"github.com/fleetup/fleetup/pkg/transport"
	"github.com/fleetup/fleetup/pkg/util"
)

// Optional files of the inventory directory.
const (
	templatesDir = "templates"
	ouiFile      = "oui.txt"
)

var (
	infos         []string
	schedule      string
	counterSettle time.Duration
	preferTelnet  bool

	upgradeSteps []string
	evict        bool

	sharedLogin *catalog.Credentials
)

var collectCmd = &cobra.Command{
	Use:   "collect -i <info>...",
	Short: "Run catalogued show commands on every device",
	Long: `Run the catalog commands of one or more infos on every device and
write the outputs and parsed records to the report directory.

With --schedule the collection repeats on a cron schedule until
interrupted.

Examples:
  fleetup collect -i version -i interfaces
  fleetup collect -i mac_address_table --schedule "0 */4 * * *"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		op := fleet.Collect(infos...)
		if schedule != "" {
			return runScheduled(cmd.Context(), schedule, op)
		}
		return runOperation(cmd.Context(), op)
	},
}

var configureCmd = &cobra.Command{
	Use:   "configure -i <info>...",
	Short: "Apply catalogued configuration sets to every device",
	Long: `Enter configuration mode on every device and send the catalog
commands of each info as one configuration set. Every set sent is
recorded in the audit log.

Examples:
  fleetup configure -i ntp_servers
  fleetup configure -i snmp -i syslog --parallel 10`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOperation(cmd.Context(), fleet.Configure(infos...))
	},
}

var upgradeCmd = &cobra.Command{
	Use:   "upgrade [--step <step>]...",
	Short: "Run the firmware upgrade workflow on every device",
	Long: `Run upgrade steps in the order given. Without --step every step runs:
pre, transfer, md5, post.

Steps:
  pre       Pre-Validations   run the validation command list
  transfer  Transfer Image    copy the target image into every flash region
  md5       Verify MD5        verify the image digest in every region
  post      Post-Validations  run the validation command list again

Examples:
  fleetup upgrade --step pre --step transfer --evict
  fleetup upgrade --step md5`,
	RunE: func(cmd *cobra.Command, args []string) error {
		steps, err := parseSteps(upgradeSteps)
		if err != nil {
			return err
		}
		return runOperation(cmd.Context(), fleet.Upgrade(evict, steps...))
	},
}

func init() {
	for _, cmd := range []*cobra.Command{collectCmd, configureCmd} {
		cmd.Flags().StringSliceVarP(&infos, "info", "i", nil, "Catalog info to run (repeatable)")
		cmd.MarkFlagRequired("info")
	}
	collectCmd.Flags().StringVar(&schedule, "schedule", "", "Repeat on a cron schedule (e.g. \"0 */4 * * *\")")
	collectCmd.Flags().DurationVar(&counterSettle, "counter-settle", 5*time.Second, "Wait after clearing counters before reading them")

	upgradeCmd.Flags().StringArrayVar(&upgradeSteps, "step", nil, "Upgrade step: pre, transfer, md5, post (repeatable, in order)")
	upgradeCmd.Flags().BoolVar(&evict, "evict", false, "Delete stale images when a flash region lacks space")

	for _, cmd := range []*cobra.Command{collectCmd, configureCmd, upgradeCmd} {
		cmd.Flags().BoolVar(&preferTelnet, "telnet", false, "Try Telnet before SSH")
	}
}

var stepAliases = map[string]device.StepName{
	"pre":      device.StepPreValidations,
	"transfer": device.StepTransferImage,
	"md5":      device.StepVerifyMD5,
	"post":     device.StepPostValidations,
}

// parseSteps accepts short aliases or full step names, repeated or comma
// separated. No names selects every step.
func parseSteps(args []string) ([]device.StepName, error) {
	var names []string
	for _, a := range args {
		names = append(names, util.SplitCommaSeparated(a)...)
	}
	if len(names) == 0 {
		return append([]device.StepName(nil), device.StepNames...), nil
	}
	steps := make([]device.StepName, 0, len(names))
	for _, n := range names {
		if s, ok := stepAliases[strings.ToLower(n)]; ok {
			steps = append(steps, s)
			continue
		}
		s, ok := device.ParseStepName(n)
		if !ok {
			return nil, fmt.Errorf("unknown upgrade step %q (valid: pre, transfer, md5, post)", n)
		}
		steps = append(steps, s)
	}
	return steps, nil
}

// signalContext cancels on SIGINT/SIGTERM so workers stop at their next
// blocking call.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runOperation(parent context.Context, op fleet.Operation) error {
	ctx, cancel := signalContext(parent)
	defer cancel()

	coord, devices, err := prepare(op)
	if err != nil {
		return err
	}
	run := coord.Run(ctx, devices, op)
	return finish(ctx, coord, run)
}

// prepare loads the inventory and builds the coordinator for op.
func prepare(op fleet.Operation) (*fleet.Coordinator, []*device.Device, error) {
	bundle, err := catalog.NewLoader(inventoryDir).Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading inventory %s: %w", inventoryDir, err)
	}
	if err := op.Validate(bundle); err != nil {
		return nil, nil, err
	}
	if askPass {
		// Prompted once per process; scheduled runs reuse the answer.
		if sharedLogin == nil {
			creds, err := promptCredentials()
			if err != nil {
				return nil, nil, err
			}
			sharedLogin = &creds
		}
		bundle.Credentials.SetCommon(*sharedLogin)
	}

	exec := &device.Executor{
		Commands:      bundle.Commands,
		Dialer:        transport.NetDialer{},
		CounterSettle: counterSettle,
	}
	if p := filepath.Join(inventoryDir, templatesDir); dirExists(p) {
		parser, err := parse.NewTextFSM(p)
		if err != nil {
			return nil, nil, err
		}
		exec.Parser = parser
	}
	if p := filepath.Join(inventoryDir, ouiFile); fileExists(p) {
		reg, err := oui.Load(p)
		if err != nil {
			return nil, nil, err
		}
		exec.Vendors = reg
	}

	coord := &fleet.Coordinator{
		Bundle:        bundle,
		Exec:          exec,
		Limit:         parallel,
		ValidationDir: userSettings.ValidationDir,
		User:          currentUser(),
		Metrics:       fleet.NewMetrics(),
	}
	if preferTelnet {
		coord.Preferred = transport.ProtocolTelnet
	}
	if !jsonOutput {
		coord.Progress = fleet.NewConsoleProgress(verbose)
	}
	if op.Kind == fleet.KindUpgrade {
		if coord.Images, err = imageSource(); err != nil {
			return nil, nil, err
		}
	}
	return coord, fleet.Devices(bundle), nil
}

// imageSource prefers the S3 repository over the static image server.
func imageSource() (imagestore.Source, error) {
	if userSettings.S3.Enabled() {
		return imagestore.NewS3Source(userSettings.S3)
	}
	if userSettings.ImageServer == "" {
		return nil, fmt.Errorf("upgrade needs an image source: fleetup settings set image_server <url> or configure s3: %w", util.ErrInvalidConfig)
	}
	return imagestore.NewStaticSource(userSettings.ImageServer)
}

// finish publishes a run: report files, metrics, the Redis store and the
// terminal output. Publishing failures are logged; only a failed report
// write is returned.
func finish(ctx context.Context, coord *fleet.Coordinator, run *report.Run) error {
	dir, err := writeReports(userSettings.GetReportDir(), run)
	if err != nil {
		return err
	}
	util.WithField("run", run.ID).Infof("Reports written to %s", dir)

	if userSettings.MetricsFile != "" {
		if err := coord.Metrics.WriteTextfile(userSettings.MetricsFile); err != nil {
			util.Warnf("%v", err)
		}
	}
	if userSettings.Redis.Enabled() {
		store := report.NewRedisStore(userSettings.Redis)
		defer store.Close()
		// The run is already finished; a cancelled context must not lose it.
		if err := store.Save(context.WithoutCancel(ctx), run); err != nil {
			util.Warnf("Could not save run %s: %v", run.ID, err)
		}
	}

	if jsonOutput {
		return report.Encode(os.Stdout, run.Records)
	}
	printSummary(run)
	fmt.Printf("\nRun %s, reports in %s\n", run.ID, dir)
	return nil
}

// promptCredentials reads the shared login used for devices without
// credentials of their own.
func promptCredentials() (catalog.Credentials, error) {
	var c catalog.Credentials
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return c, fmt.Errorf("--ask-pass needs an interactive terminal")
	}

	fmt.Fprint(os.Stderr, "Username: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return c, fmt.Errorf("reading username: %w", err)
	}
	c.Username = strings.TrimSpace(line)

	fmt.Fprint(os.Stderr, "Password: ")
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return c, fmt.Errorf("reading password: %w", err)
	}
	c.Password = string(pw)

	fmt.Fprint(os.Stderr, "Enable secret (empty = password): ")
	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return c, fmt.Errorf("reading enable secret: %w", err)
	}
	c.Secret = string(secret)
	if c.Secret == "" {
		c.Secret = c.Password
	}
	return c, nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
