package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"pcbrecon-backend/pkg/client"
)

var (
	projectName  string
	projectImage string
	projectSkip  int
	projectLimit int
	projectYes   bool
)

var projectsCmd = &cobra.Command{
	Use:     "projects",
	Aliases: []string{"project"},
	Short:   "Project management commands",
	Long: `Commands for creating, inspecting and deleting PCBRecon projects.

Examples:
  pcbctl projects list --limit 20
  pcbctl projects get 3
  pcbctl projects create --name "Router mainboard" --image ./board.jpg
  pcbctl projects analyze 3
  pcbctl projects assess 3
  pcbctl projects delete 3 --yes`,
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		projects, err := newClient().ListProjects(ctx, projectSkip, projectLimit)
		if err != nil {
			return fmt.Errorf("list projects: %w", err)
		}
		if GetOutput() == "json" {
			return printJSON(cmd.OutOrStdout(), projects)
		}
		printProjects(cmd.OutOrStdout(), projects)
		return nil
	},
}

var projectsGetCmd = &cobra.Command{
	Use:   "get <project-id>",
	Short: "Show a project with its analysis and chat transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseProjectID(args[0])
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		p, err := newClient().GetProject(ctx, id)
		if err != nil {
			return fmt.Errorf("get project: %w", err)
		}
		if GetOutput() == "json" {
			return printJSON(cmd.OutOrStdout(), p)
		}

		out := cmd.OutOrStdout()
		printProject(out, &p.Project)
		if len(p.ChatMessages) > 0 {
			fmt.Fprintln(out, "\nChat:")
			for _, m := range p.ChatMessages {
				printMessage(out, m.Sender, m.Message)
			}
		}
		return nil
	},
}

var projectsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a project from a board image",
	Long: `Upload a board image and create a project. The image is checked
locally (type and size) before anything is sent. Depending on the server's
analysis mode the response may already contain the analysis.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if projectImage == "" {
			return errors.New("--image is required")
		}
		data, err := os.ReadFile(projectImage)
		if err != nil {
			return fmt.Errorf("read image: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		p, err := newClient().CreateProject(ctx, projectName, projectImage, data)
		if err != nil {
			return fmt.Errorf("create project: %w", err)
		}
		if GetOutput() == "json" {
			return printJSON(cmd.OutOrStdout(), p)
		}
		printProject(cmd.OutOrStdout(), p)
		return nil
	},
}

var projectsAnalyzeCmd = &cobra.Command{
	Use:   "analyze <project-id>",
	Short: "Run the board analysis again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseProjectID(args[0])
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		p, err := newClient().AnalyzeProject(ctx, id)
		if err != nil {
			return fmt.Errorf("analyze project: %w", err)
		}
		if GetOutput() == "json" {
			return printJSON(cmd.OutOrStdout(), p)
		}
		printProject(cmd.OutOrStdout(), p)
		return nil
	},
}

var projectsAssessCmd = &cobra.Command{
	Use:   "assess <project-id>",
	Short: "Generate a hardware security report for a board",
	Long: `Lists the board's components, identifies the main microcontroller and
assesses debug and security exposure. The report is printed as Markdown and
is not stored on the server.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseProjectID(args[0])
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		a, err := newClient().AssessProject(ctx, id)
		if err != nil {
			return fmt.Errorf("assess project: %w", err)
		}
		if GetOutput() == "json" {
			return printJSON(cmd.OutOrStdout(), a)
		}
		fmt.Fprintln(cmd.OutOrStdout(), a.Report)
		return nil
	},
}

var projectsDeleteCmd = &cobra.Command{
	Use:   "delete <project-id>",
	Short: "Delete a project and its chat history",
	Long: `Delete a project and its chat history. Asks for confirmation on a
terminal; pass --yes when stdin is not a terminal.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseProjectID(args[0])
		if err != nil {
			return err
		}

		if !projectYes {
			ok, err := confirm(cmd.InOrStdin(), cmd.OutOrStdout(), term.IsTerminal(int(syscall.Stdin)),
				fmt.Sprintf("Delete project %d and its chat history?", id))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Canceled.")
				return nil
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := newClient().DeleteProject(ctx, id); err != nil {
			return fmt.Errorf("delete project: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Project %d deleted.\n", id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(projectsCmd)
	projectsCmd.AddCommand(projectsListCmd, projectsGetCmd, projectsCreateCmd, projectsAnalyzeCmd, projectsAssessCmd, projectsDeleteCmd)

	projectsListCmd.Flags().IntVar(&projectSkip, "skip", 0, "number of projects to skip")
	projectsListCmd.Flags().IntVar(&projectLimit, "limit", 0, "maximum number of projects (server caps at 100)")

	projectsCreateCmd.Flags().StringVar(&projectName, "name", "", "project name")
	projectsCreateCmd.Flags().StringVar(&projectImage, "image", "", "path to the board image")

	projectsDeleteCmd.Flags().BoolVarP(&projectYes, "yes", "y", false, "skip confirmation prompt")
}

func parseProjectID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid project id %q", s)
	}
	return id, nil
}

// confirm asks a y/N question. Without a terminal it refuses rather than
// reading an answer from a pipe.
func confirm(in io.Reader, out io.Writer, interactive bool, question string) (bool, error) {
	if !interactive {
		return false, errors.New("stdin is not a terminal; pass --yes to confirm")
	}
	fmt.Fprintf(out, "%s [y/N]: ", question)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	answer = strings.TrimSpace(answer)
	return strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes"), nil
}

func printProjects(w io.Writer, projects []client.Project) {
	if len(projects) == 0 {
		fmt.Fprintln(w, "No projects found.")
		return
	}

	fmt.Fprintf(w, "\n%-6s  %-30s  %-24s  %-9s  %s\n", "ID", "NAME", "IMAGE", "ANALYSIS", "CREATED")
	fmt.Fprintln(w, strings.Repeat("-", 92))
	for _, p := range projects {
		analysis := "pending"
		if p.Analysis != nil {
			analysis = "ready"
		}
		fmt.Fprintf(w, "%-6d  %-30s  %-24s  %-9s  %s\n",
			p.ID,
			truncate(p.Name, 30),
			truncate(p.ImagePath, 24),
			analysis,
			p.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		)
	}
	fmt.Fprintf(w, "\nTotal: %d project(s)\n", len(projects))
}

func printProject(w io.Writer, p *client.Project) {
	fmt.Fprintf(w, "ID:       %d\n", p.ID)
	fmt.Fprintf(w, "Name:     %s\n", p.Name)
	fmt.Fprintf(w, "Image:    %s\n", p.ImagePath)
	if p.ImageStoragePath != "" {
		fmt.Fprintf(w, "Archived: %s\n", p.ImageStoragePath)
	}
	fmt.Fprintf(w, "Created:  %s\n", p.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	if p.Analysis == nil {
		fmt.Fprintln(w, "\nAnalysis: not available yet (run 'pcbctl projects analyze')")
		return
	}
	fmt.Fprintf(w, "\nAnalysis:\n%s\n", *p.Analysis)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
