package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/astrodata/respath/pkg/access"
	"github.com/astrodata/respath/pkg/respath"

	_ "github.com/astrodata/respath/pkg/davfs"
	_ "github.com/astrodata/respath/pkg/localfs"
	_ "github.com/astrodata/respath/pkg/memfs"
	_ "github.com/astrodata/respath/pkg/pkgres"
	_ "github.com/astrodata/respath/pkg/s3fs"
)

type app struct {
	client *access.Client
}

func (a *app) ensureClient() error {
	if a.client == nil {
		a.client = access.NewClient()
	}
	return nil
}

// opContext derives the per-command context, bounded by --timeout when set.
func opContext() (context.Context, context.CancelFunc) {
	timeout := viper.GetDuration("timeout")
	if timeout > 0 {
		return context.WithTimeout(context.Background(), timeout)
	}
	return context.WithCancel(context.Background())
}

var (
	cfgFile     string
	application = &app{}
	rootCmd     = &cobra.Command{
		Use:           "respath",
		Short:         "respath uniform resource access CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return application.ensureClient()
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	initRootFlags()
	initCommands()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("respath")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "respath"))
		}
	}
	viper.SetEnvPrefix("RESPATH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			fmt.Fprintf(os.Stderr, "read config: %v\n", err)
		}
	}
}

func bindConfig(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

func initRootFlags() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (TOML or YAML)")
	rootCmd.PersistentFlags().Duration("timeout", 0, "bound each operation (0 disables)")
	bindConfig("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
}

func initCommands() {
	rootCmd.AddCommand(
		newExistsCmd(),
		newSizeCmd(),
		newCatCmd(),
		newPutCmd(),
		newCpCmd(),
		newMvCmd(),
		newRmCmd(),
		newMkdirCmd(),
		newLsCmd(),
		newStageCmd(),
		newSweepCmd(),
	)
}

func parsePath(arg string, opts ...respath.Option) (respath.ResourcePath, error) {
	if respath.LooksQuoted(arg) {
		fmt.Fprintf(os.Stderr, "warning: %s carries percent escapes and is taken as already quoted\n", arg)
	}
	r, err := respath.New(arg, opts...)
	if err != nil {
		return respath.ResourcePath{}, fmt.Errorf("parse %s: %w", arg, err)
	}
	return r, nil
}

func parseMode(s string) (respath.TransferMode, error) {
	mode := respath.TransferMode(s)
	switch mode {
	case respath.ModeAuto, respath.ModeCopy, respath.ModeMove,
		respath.ModeLink, respath.ModeHardlink, respath.ModeSymlink, respath.ModeRelsymlink:
		return mode, nil
	default:
		return "", fmt.Errorf("unknown transfer mode %q", s)
	}
}

func newExistsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exists <uri>",
		Short: "Report whether the resource exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opContext()
			defer cancel()
			return doExists(ctx, application.client, args[0])
		},
	}
}

func newSizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "size <uri>",
		Short: "Print the resource size in bytes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opContext()
			defer cancel()
			return doSize(ctx, application.client, args[0])
		},
	}
}

func newCatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <uri>",
		Short: "Print the resource contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opContext()
			defer cancel()
			return doCat(ctx, application.client, args[0], os.Stdout)
		},
	}
}

func newPutCmd() *cobra.Command {
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "put <uri>",
		Short: "Write stdin to the destination resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opContext()
			defer cancel()
			return doPut(ctx, application.client, args[0], os.Stdin, overwrite)
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace the destination if it exists")
	return cmd
}

func newCpCmd() *cobra.Command {
	var (
		modeStr   string
		overwrite bool
	)
	cmd := &cobra.Command{
		Use:   "cp <source> <destination>",
		Short: "Transfer a resource, possibly across schemes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := parseMode(modeStr)
			if err != nil {
				return err
			}
			ctx, cancel := opContext()
			defer cancel()
			return doTransfer(ctx, application.client, args[1], args[0], mode, overwrite)
		},
	}
	cmd.Flags().StringVar(&modeStr, "mode", "copy", "transfer mode: auto|copy|move|link|hardlink|symlink|relsymlink")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace the destination if it exists")
	return cmd
}

func newMvCmd() *cobra.Command {
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "mv <source> <destination>",
		Short: "Move a resource, deleting the source on success",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opContext()
			defer cancel()
			return doTransfer(ctx, application.client, args[1], args[0], respath.ModeMove, overwrite)
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace the destination if it exists")
	return cmd
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <uri>",
		Short: "Delete the resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opContext()
			defer cancel()
			r, err := parsePath(args[0])
			if err != nil {
				return err
			}
			return application.client.Remove(ctx, r)
		},
	}
}

func newMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <uri>",
		Short: "Create a directory-like resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opContext()
			defer cancel()
			r, err := parsePath(args[0], respath.ForceDirectory())
			if err != nil {
				return err
			}
			return application.client.Mkdir(ctx, r)
		},
	}
}

func newLsCmd() *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "ls <uri>",
		Short: "List a directory-like resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opContext()
			defer cancel()
			return doList(ctx, application.client, args[0], recursive, os.Stdout)
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "descend into subdirectories")
	return cmd
}

func newStageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stage <uri>",
		Short: "Materialize the resource as a local file and print its path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opContext()
			defer cancel()
			return doStage(ctx, application.client, args[0], os.Stdout)
		},
	}
}

func newSweepCmd() *cobra.Command {
	var maxAge time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Reclaim aged staging files left by crashed processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opContext()
			defer cancel()
			sweeper := access.NewSweeper(access.SweeperOptions{MaxAge: maxAge})
			count, err := sweeper.Sweep(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "sweep removed %d staging files\n", count)
			return nil
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 24*time.Hour, "age before a staging file is reclaimed")
	return cmd
}

func doExists(ctx context.Context, client *access.Client, arg string) error {
	r, err := parsePath(arg)
	if err != nil {
		return err
	}
	ok, err := client.Exists(ctx, r)
	if err != nil {
		return err
	}
	fmt.Println(ok)
	return nil
}

func doSize(ctx context.Context, client *access.Client, arg string) error {
	r, err := parsePath(arg)
	if err != nil {
		return err
	}
	size, err := client.Size(ctx, r)
	if err != nil {
		return err
	}
	fmt.Println(size)
	return nil
}

func doCat(ctx context.Context, client *access.Client, arg string, w io.Writer) error {
	r, err := parsePath(arg)
	if err != nil {
		return err
	}
	h, err := client.Open(ctx, r)
	if err != nil {
		return err
	}
	defer h.Close()
	_, err = io.Copy(w, h)
	return err
}

func doPut(ctx context.Context, client *access.Client, arg string, in io.Reader, overwrite bool) error {
	r, err := parsePath(arg)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	return client.Write(ctx, r, data, overwrite)
}

func doTransfer(ctx context.Context, client *access.Client, dstArg, srcArg string, mode respath.TransferMode, overwrite bool) error {
	src, err := parsePath(srcArg)
	if err != nil {
		return err
	}
	dst, err := parsePath(dstArg)
	if err != nil {
		return err
	}
	return client.Transfer(ctx, dst, src, mode, overwrite)
}

// errListDone stops a non-recursive listing after the first directory.
var errListDone = errors.New("listing complete")

func doList(ctx context.Context, client *access.Client, arg string, recursive bool, w io.Writer) error {
	r, err := parsePath(arg, respath.ForceDirectory())
	if err != nil {
		return err
	}
	err = client.Walk(ctx, r, func(dir respath.ResourcePath, subdirs, files []string) error {
		prefix := ""
		if rel, ok := dir.RelativeTo(r); ok && rel != "." {
			prefix = strings.TrimSuffix(rel, "/") + "/"
		}
		for _, d := range subdirs {
			fmt.Fprintf(w, "%s%s/\n", prefix, d)
		}
		for _, f := range files {
			fmt.Fprintf(w, "%s%s\n", prefix, f)
		}
		if !recursive {
			return errListDone
		}
		return nil
	})
	if errors.Is(err, errListDone) {
		return nil
	}
	return err
}

// doStage leaves the staged copy behind so the caller can use it; the
// sweep command reclaims it once it ages out.
func doStage(ctx context.Context, client *access.Client, arg string, w io.Writer) error {
	r, err := parsePath(arg)
	if err != nil {
		return err
	}
	local, _, err := client.AsLocal(ctx, r)
	if err != nil {
		return err
	}
	p, err := local.OSPath()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, p)
	return nil
}
