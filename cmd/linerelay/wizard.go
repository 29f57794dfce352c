package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"linerelay/internal/config"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"
)

// prompter abstracts survey so the wizard can be driven from tests.
type prompter interface {
	AskInput(label, def string) (string, error)
	AskPassword(label string) (string, error)
	AskConfirm(label string, def bool) (bool, error)
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Interactive setup: LINE channel → completion API → Telegram → save config",
		Long: `Guides you through the LINE channel credentials, the completion endpoint
and the optional Telegram bot, then writes a YAML config to the path given by
--config or the default. Secrets may be entered as ${ENV_VAR} references.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := runWizard(resolveConfigPath(), surveyPrompter{}, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			logger.Info("initialized", "config", path)
			return nil
		},
	}
}

var errWizardAborted = errors.New("aborted: config left unchanged")

func runWizard(cfgPath string, p prompter, out io.Writer) (string, error) {
	cfgPath = config.ExpandPath(cfgPath)
	if _, err := os.Stat(cfgPath); err == nil {
		overwrite, err := p.AskConfirm(fmt.Sprintf("%s exists. Overwrite?", cfgPath), false)
		if err != nil {
			return "", err
		}
		if !overwrite {
			return "", errWizardAborted
		}
	}

	cfg := config.Defaults()

	fmt.Fprintln(out, "\n--- Step 1: LINE channel ---")
	var err error
	if cfg.Line.ChannelAccessToken, err = p.AskInput("Channel access token", "${"+config.EnvLineAccessToken+"}"); err != nil {
		return "", err
	}
	if cfg.Line.ChannelSecret, err = p.AskInput("Channel secret", "${"+config.EnvLineChannelSecret+"}"); err != nil {
		return "", err
	}
	if cfg.Line.CallbackPath, err = p.AskInput("Webhook path", cfg.Line.CallbackPath); err != nil {
		return "", err
	}
	port, err := p.AskInput("Listen port", strconv.Itoa(cfg.Server.Port))
	if err != nil {
		return "", err
	}
	if cfg.Server.Port, err = strconv.Atoi(strings.TrimSpace(port)); err != nil {
		return "", fmt.Errorf("invalid port %q", port)
	}

	fmt.Fprintln(out, "\n--- Step 2: Completion API ---")
	if cfg.Completion.APIBase, err = p.AskInput("API base URL", cfg.Completion.APIBase); err != nil {
		return "", err
	}
	if cfg.Completion.Model, err = p.AskInput("Model", cfg.Completion.Model); err != nil {
		return "", err
	}
	if cfg.Completion.APIKey, err = p.AskInput("API key", "${"+config.EnvCompletionAPIKey+"}"); err != nil {
		return "", err
	}
	if cfg.Completion.FallbackText, err = p.AskInput("Reply used when the API fails", cfg.Completion.FallbackText); err != nil {
		return "", err
	}

	fmt.Fprintln(out, "\n--- Step 3: Telegram (optional) ---")
	if cfg.Telegram.Enabled, err = p.AskConfirm("Also relay a Telegram bot?", false); err != nil {
		return "", err
	}
	if cfg.Telegram.Enabled {
		if cfg.Telegram.Token, err = p.AskPassword("Telegram bot token (from @BotFather)"); err != nil {
			return "", err
		}
		if cfg.Telegram.SecretToken, err = p.AskPassword("Webhook secret token (as passed to setWebhook)"); err != nil {
			return "", err
		}
	}

	if err := config.ValidateDraft(cfg); err != nil {
		return "", err
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return "", err
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", cfgPath)
	if pending := config.UnresolvedEnv(cfg); len(pending) > 0 {
		fmt.Fprintf(out, "Set %s before starting the relay.\n", strings.Join(pending, ", "))
	}
	fmt.Fprintln(out, "Next: 'linerelay doctor' to check it, then 'linerelay serve'.")
	return cfgPath, nil
}

// surveyPrompter is the real interactive implementation.
type surveyPrompter struct{}

func (surveyPrompter) AskInput(label, def string) (string, error) {
	ans := def
	prompt := &survey.Input{Message: label, Default: def}
	if err := survey.AskOne(prompt, &ans); err != nil {
		return "", err
	}
	return strings.TrimSpace(ans), nil
}

func (surveyPrompter) AskPassword(label string) (string, error) {
	var ans string
	prompt := &survey.Password{Message: label}
	if err := survey.AskOne(prompt, &ans, survey.WithValidator(survey.Required)); err != nil {
		return "", err
	}
	return ans, nil
}

func (surveyPrompter) AskConfirm(label string, def bool) (bool, error) {
	ans := def
	prompt := &survey.Confirm{Message: label, Default: def}
	if err := survey.AskOne(prompt, &ans); err != nil {
		return false, err
	}
	return ans, nil
}
