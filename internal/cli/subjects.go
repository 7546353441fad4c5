package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/thruflo/ppgcam/internal/api"
	"github.com/thruflo/ppgcam/internal/config"
)

var (
	subjectAge    int
	subjectGender string
	subjectNotes  string
)

var subjectsCmd = &cobra.Command{
	Use:   "subjects",
	Short: "Manage measurement subjects",
	Long: `Lists, creates and inspects subjects on the measurement service at
api.base_url. Set PPGCAM_API_TOKEN (environment or .ppgcam/.env) if the
service requires a token.`,
}

var subjectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List subjects",
	Args:  cobra.NoArgs,
	RunE:  runSubjectsList,
}

var subjectsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a subject",
	Long: `Creates a subject and prints its id.

Example:
  ppgcam subjects create "Ada Lovelace" --age 36 --gender female`,
	Args: cobra.ExactArgs(1),
	RunE: runSubjectsCreate,
}

var subjectsHistoryCmd = &cobra.Command{
	Use:   "history <subject-id>",
	Short: "Show a subject's measurements",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubjectsHistory,
}

func init() {
	subjectsCreateCmd.Flags().IntVar(&subjectAge, "age", 0, "age in years (0 = not recorded)")
	subjectsCreateCmd.Flags().StringVar(&subjectGender, "gender", "", "gender")
	subjectsCreateCmd.Flags().StringVar(&subjectNotes, "notes", "", "free-form notes")

	subjectsCmd.AddCommand(subjectsListCmd, subjectsCreateCmd, subjectsHistoryCmd)
	rootCmd.AddCommand(subjectsCmd)
}

func newAPIClient(cfg *config.Config) *api.Client {
	return api.NewClient(cfg.API.BaseURL,
		api.WithToken(cfg.API.Token),
		api.WithTimeout(cfg.API.Timeout),
	)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func runSubjectsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	subjects, err := newAPIClient(cfg).ListSubjects(commandContext(cmd))
	if err != nil {
		return err
	}
	printSubjects(cmd.OutOrStdout(), subjects)
	return nil
}

func printSubjects(w io.Writer, subjects []api.Subject) {
	if len(subjects) == 0 {
		fmt.Fprintln(w, "No subjects found.")
		return
	}

	idWidth := len("ID")
	nameWidth := len("NAME")
	for _, s := range subjects {
		idWidth = max(idWidth, len(s.ID))
		nameWidth = max(nameWidth, len(s.Name))
	}

	fmt.Fprintf(w, "%-*s  %-*s  %4s  %-8s  %s\n", idWidth, "ID", nameWidth, "NAME", "AGE", "GENDER", "MEASUREMENTS")
	for _, s := range subjects {
		age := "-"
		if s.Age != nil {
			age = strconv.Itoa(*s.Age)
		}
		gender := s.Gender
		if gender == "" {
			gender = "-"
		}
		fmt.Fprintf(w, "%-*s  %-*s  %4s  %-8s  %d\n", idWidth, s.ID, nameWidth, s.Name, age, gender, s.TotalMeasurements)
	}
}

func runSubjectsCreate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	req := api.CreateSubjectRequest{
		Name:   args[0],
		Gender: subjectGender,
		Notes:  subjectNotes,
	}
	if cmd.Flags().Changed("age") {
		if subjectAge < 0 {
			return fmt.Errorf("invalid age %d", subjectAge)
		}
		age := subjectAge
		req.Age = &age
	}

	subject, err := newAPIClient(cfg).CreateSubject(commandContext(cmd), req)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created subject %s (%s)\n", subject.ID, subject.Name)
	return nil
}

func runSubjectsHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	history, err := newAPIClient(cfg).SubjectHistory(commandContext(cmd), args[0])
	if err != nil {
		return err
	}
	printHistory(cmd.OutOrStdout(), history)
	return nil
}

func printHistory(w io.Writer, h *api.History) {
	if st := h.Stats; st != nil {
		fmt.Fprintf(w, "Subject %s: %d measurements\n", h.SubjectID, st.MeasurementCount)
		fmt.Fprintf(w, "  Average BP:  %.0f/%.0f mmHg\n", st.AvgSystolic, st.AvgDiastolic)
		fmt.Fprintf(w, "  Heart rate:  avg %.0f, min %.0f, max %.0f bpm\n", st.AvgHeartRate, st.MinHeartRate, st.MaxHeartRate)
	} else {
		fmt.Fprintf(w, "Subject %s\n", h.SubjectID)
	}

	if len(h.Measurements) == 0 {
		fmt.Fprintln(w, "No measurements recorded.")
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%-25s  %5s  %-10s  %-22s  %s\n", "TIMESTAMP", "HR", "QUALITY", "BP CATEGORY", "DURATION")
	for _, m := range h.Measurements {
		quality := m.SignalQuality
		if quality == "" {
			quality = "-"
		}
		category := m.BPCategory
		if category == "" {
			category = "-"
		}
		fmt.Fprintf(w, "%-25s  %5d  %-10s  %-22s  %ds\n", m.Timestamp, m.HeartRate, quality, category, m.Duration)
	}
}
