package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/brunobiangulo/brdiagram"
	"github.com/brunobiangulo/brdiagram/parser"
)

// sampleBRD is processed when no input is given and stdin is not a terminal.
const sampleBRD = "Sample BRD: Users submit issues; admins triage; system assigns owners; statuses update; reports generated."

var (
	runFile    string
	runText    string
	runOutput  string
	runNoColor bool
)

var runCmd = &cobra.Command{
	Use:   "run [path-or-text]",
	Short: "Generate the three diagrams for one BRD",
	Long: `Generates a DFD, a logic flowchart and an ERD for one BRD and writes them
to the output directory.

The BRD comes from --file, --text, or a single argument that is treated as a
path when it names an existing file with a supported extension and as BRD
text otherwise. With no input, the BRD is read from stdin; when stdin is a
terminal, you are prompted for it.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runFile, "file", "f", "", "BRD document (txt, md, pdf, docx, xlsx)")
	runCmd.Flags().StringVarP(&runText, "text", "t", "", "BRD text")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "output directory (overrides config)")
	runCmd.Flags().BoolVar(&runNoColor, "no-color", false, "disable colored output")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runOutput != "" {
		cfg.OutputDir = runOutput
	}

	in, err := resolveInput(runFile, runText, args, parser.NewRegistry(), cmd.InOrStdin(), stdinIsTerminal(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	p, err := brdiagram.New(cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ui := newUI(cmd.OutOrStdout(), runNoColor)
	ui.Info("Strategy: %s", p.Strategy())
	spin := ui.Spinner("Generating diagrams...")
	spin.Start()
	res, err := p.Run(ctx, in)
	spin.Stop()

	if res != nil {
		ui.PrintResult(res)
	}
	if errors.Is(err, brdiagram.ErrInputAbsent) {
		return fmt.Errorf("nothing to do: %w", err)
	}
	if err != nil {
		return err
	}
	if res.Status == brdiagram.StatusFailed {
		return errors.New("no diagram was generated")
	}
	return nil
}

// resolveInput decides where the BRD comes from. A lone argument is a path
// when it names an existing file with a supported extension.
func resolveInput(file, text string, args []string, reg *parser.Registry, stdin io.Reader, interactive bool, prompt io.Writer) (brdiagram.Input, error) {
	switch {
	case file != "":
		return brdiagram.Input{Path: file}, nil
	case text != "":
		return brdiagram.Input{Text: text}, nil
	case len(args) == 1:
		arg := args[0]
		if reg.Supports(arg) {
			if info, err := os.Stat(arg); err == nil && !info.IsDir() {
				return brdiagram.Input{Path: arg}, nil
			}
		}
		return brdiagram.Input{Text: arg}, nil
	}

	if interactive {
		fmt.Fprintln(prompt, "Paste the BRD text, then press Ctrl-D:")
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return brdiagram.Input{}, fmt.Errorf("reading stdin: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" && !interactive {
		return brdiagram.Input{Text: sampleBRD}, nil
	}
	return brdiagram.Input{Text: string(data)}, nil
}

func stdinIsTerminal() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
