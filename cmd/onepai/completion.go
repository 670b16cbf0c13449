package main

import (
	"os"
	"strings"

	"github.com/onepai/onepai/internal/cli"
	"github.com/onepai/onepai/pkg/exchange"
	"github.com/onepai/onepai/pkg/manager"
	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate completion script for your shell",
	Long: `To load completions:

Bash:
  $ source <(onepai completion bash)

  # To load for each session (Linux):
  $ onepai completion bash > ~/.local/share/bash-completion/completions/onepai

  # To load for each session (macOS with Homebrew):
  $ onepai completion bash > $(brew --prefix)/etc/bash_completion.d/onepai

Zsh:
  # Ensure completion is enabled:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # Generate completion:
  $ onepai completion zsh > ~/.zsh/completions/_onepai
  # (create ~/.zsh/completions if needed, add to fpath in .zshrc)

Fish:
  $ onepai completion fish > ~/.config/fish/completions/onepai.fish

PowerShell:
  PS> onepai completion powershell >> $PROFILE

Archive category names complete dynamically from the data directory.
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletion(os.Stdout)
		case "zsh":
			return cmd.Root().GenZshCompletion(os.Stdout)
		case "fish":
			return cmd.Root().GenFishCompletion(os.Stdout, true)
		case "powershell":
			return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)

	registerCompletionFunctions()
}

// reservedDirs are data directory entries that are not archive
// categories.
var reservedDirs = map[string]bool{
	"journal": true,
	"catalog": true,
}

// archiveNames lists the categories offered for completion: the
// directories present under the data directory, or the defaults when
// the tree does not exist yet. Never creates anything.
func archiveNames() []string {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return manager.DefaultArchives
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") || reservedDirs[e.Name()] {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) == 0 {
		return manager.DefaultArchives
	}
	return cli.SortNames(names)
}

// completeArchiveNames provides archive category completion.
func completeArchiveNames(_ *cobra.Command, _ []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	var matches []string
	for _, name := range archiveNames() {
		if strings.HasPrefix(name, toComplete) {
			matches = append(matches, name)
		}
	}
	return matches, cobra.ShellCompDirectiveNoFileComp
}

// completeFormats provides exchange format completion.
func completeFormats(_ *cobra.Command, _ []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	var matches []string
	for _, f := range exchange.ValidFormats() {
		if strings.HasPrefix(f, toComplete) {
			matches = append(matches, f)
		}
	}
	return matches, cobra.ShellCompDirectiveNoFileComp
}

// registerCompletionFunctions wires dynamic completion into the
// commands that take archive or format names.
func registerCompletionFunctions() {
	listCmd.ValidArgsFunction = completeArchiveNames

	_ = cleanCmd.RegisterFlagCompletionFunc("archive", completeArchiveNames)
	_ = exportCmd.RegisterFlagCompletionFunc("format", completeFormats)
}
