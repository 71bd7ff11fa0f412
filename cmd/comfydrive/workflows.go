package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/richinsley/comfydrive/graphapi"
	"github.com/richinsley/comfydrive/workflow"
)

func workflowsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workflows",
		Aliases: []string{"wf"},
		Short:   "List, inspect and import workflow templates",
	}
	cmd.AddCommand(workflowsListCmd(a))
	cmd.AddCommand(workflowsShowCmd(a))
	cmd.AddCommand(workflowsImportCmd(a))
	return cmd
}

func workflowsListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the templates in the workflow directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.registry()
			if err != nil {
				return err
			}
			if reg.Count() == 0 {
				info("no workflows in %s", reg.Dir())
				return nil
			}

			t := newTable("#", "NAME", "DESCRIPTION", "I2I", "SAMPLERS")
			for _, wf := range reg.List() {
				i2i := "-"
				if wf.Mapping.SupportsImageInput() {
					i2i = "yes"
				}
				t.addRow(strconv.Itoa(wf.Index), wf.Name, wf.Description, i2i, strconv.Itoa(len(wf.Mapping.Samplers)))
			}
			t.render()
			return nil
		},
	}
}

func workflowsShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <index>",
		Short: "Show the node roles found in a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid workflow index %q", args[0])
			}
			reg, err := a.registry()
			if err != nil {
				return err
			}
			wf, ok := reg.Get(index)
			if !ok {
				failure("no workflow with index %d", index)
				return fmt.Errorf("workflow %d not found", index)
			}
			printWorkflow(wf)
			return nil
		},
	}
}

func printWorkflow(wf *workflow.Info) {
	m := wf.Mapping
	g := wf.Graph

	fmt.Printf("Workflow:  %d %s\n", wf.Index, wf.Name)
	fmt.Printf("File:      %s\n", wf.Path)
	fmt.Printf("Model:     %s\n", wf.Description)
	fmt.Printf("Positive:  %s\n", describeNode(g, m.PositivePrompt, m.PositivePromptField))
	fmt.Printf("Negative:  %s\n", describeNode(g, m.NegativePrompt, m.NegativePromptField))
	fmt.Printf("Latent:    %s\n", describeLatent(g, m.LatentImage))
	fmt.Printf("LoadImage: %s\n", describeNode(g, m.LoadImage, wf.Taxonomy().ImageFieldName()))
	fmt.Printf("Output:    %s\n", describeNode(g, m.Output, ""))
	if m.HasAcceleratedLoader {
		fmt.Println("Loader:    accelerated")
	}
	if len(m.Unclassified) > 0 {
		fmt.Printf("Unclassified prompts: %s\n", strings.Join(m.Unclassified, ", "))
	}

	fmt.Println("\nSamplers:")
	for i, id := range m.Samplers {
		n := g.GetNodeById(id)
		if n == nil {
			continue
		}
		primary := ""
		if i == 0 {
			primary = " (primary)"
		}
		field := wf.Taxonomy().SeedField(n)
		seed, _ := n.Input(field)
		steps, _ := n.Input("steps")
		fmt.Printf("  - %s %s%s %s=%v steps=%v\n", id, n.ClassType, primary, field, seed, steps)
	}
}

func describeNode(g *graphapi.Graph, id, field string) string {
	if id == "" {
		return "-"
	}
	n := g.GetNodeById(id)
	if n == nil {
		return id
	}
	s := fmt.Sprintf("%s %s", id, n.ClassType)
	if title := n.Title(); title != "" {
		s += fmt.Sprintf(" %q", title)
	}
	if field != "" {
		if v, ok := n.Input(field); ok {
			if _, linked := graphapi.ParseLinkRef(v); linked {
				s += fmt.Sprintf(" [%s linked]", field)
			} else {
				s += fmt.Sprintf(" [%s]", field)
			}
		}
	}
	return s
}

func describeLatent(g *graphapi.Graph, id string) string {
	if id == "" {
		return "-"
	}
	n := g.GetNodeById(id)
	if n == nil {
		return id
	}
	width, _ := n.Input("width")
	height, _ := n.Input("height")
	batch, _ := n.Input("batch_size")
	return fmt.Sprintf("%s %s %vx%v batch=%v", id, n.ClassType, width, height, batch)
}

func workflowsImportCmd(a *app) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "import <file.png|file.json>",
		Short: "Add a template from a ComfyUI image or an API-format JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			var (
				g   *graphapi.Graph
				err error
			)
			if strings.EqualFold(filepath.Ext(path), ".png") {
				g, err = graphapi.NewGraphFromPNGFile(path)
			} else {
				g, err = graphapi.NewGraphFromJsonFile(path)
			}
			if err != nil {
				failure("cannot read a workflow from %s: %v", path, err)
				return err
			}

			if name == "" {
				name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			}
			reg, err := a.registry()
			if err != nil {
				return err
			}
			wf, err := reg.Import(name, g)
			if err != nil {
				failure("import failed: %v", err)
				return err
			}
			success("imported %s as workflow %d", wf.Name, wf.Index)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "template name, defaults to the file name")
	return cmd
}
