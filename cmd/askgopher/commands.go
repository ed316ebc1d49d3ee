package main

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/askgopher/askgopher/internal/config"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the knowledge assistant a question",
	Long: `Ask the knowledge assistant a question.

Examples:
  askgopher ask "how do I roll back a deploy?"
  askgopher ask --user alice --channel ops "where are the runbooks?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		user, _ := cmd.Flags().GetString("user")
		channel, _ := cmd.Flags().GetString("channel")
		thread, _ := cmd.Flags().GetString("thread")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/questions", map[string]string{
			"user_id":    user,
			"channel_id": channel,
			"thread_id":  thread,
			"question":   question,
		})
		if err != nil {
			return err
		}

		var result struct {
			FeedbackID string `json:"feedback_id"`
			Answer     string `json:"answer"`
			CacheHit   bool   `json:"cache_hit"`
			Remaining  int    `json:"remaining"`
			Unlimited  bool   `json:"unlimited"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result.Answer)
		if result.CacheHit {
			printStatus("Cache", "hit")
		}
		if !result.Unlimited {
			printStatus("Remaining", "%d questions today", result.Remaining)
		}
		if result.FeedbackID != "" {
			printStatus("Feedback", "askgopher feedback %s --rating 5", result.FeedbackID)
		}
		return nil
	},
}

// --- feedback ---

var feedbackCmd = &cobra.Command{
	Use:   "feedback <id>",
	Short: "Rate a previous answer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rating, _ := cmd.Flags().GetInt("rating")
		notes, _ := cmd.Flags().GetString("notes")
		if rating < 1 || rating > 5 {
			return fmt.Errorf("--rating must be between 1 and 5")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/feedback/"+args[0], map[string]any{
			"rating": rating,
			"notes":  notes,
		})
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("server returned %d", resp.StatusCode)
		}

		printSuccess("Rated answer %s: %d/5", args[0], rating)
		return nil
	},
}

// --- quota ---

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show remaining question quota for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/quota?user_id="+user)
		if err != nil {
			return err
		}

		var result struct {
			Used      int  `json:"used"`
			Limit     int  `json:"limit"`
			Remaining int  `json:"remaining"`
			Unlimited bool `json:"unlimited"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.Unlimited {
			printStatus("Quota", "unlimited")
			return nil
		}
		printStatus("Used", "%d of %d", result.Used, result.Limit)
		printStatus("Remaining", "%d", result.Remaining)
		return nil
	},
}

// --- clear ---

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget the stored conversation history for a thread",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		channel, _ := cmd.Flags().GetString("channel")
		thread, _ := cmd.Flags().GetString("thread")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/v1/conversations", map[string]string{
			"user_id":    user,
			"channel_id": channel,
			"thread_id":  thread,
		})
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("server returned %d", resp.StatusCode)
		}

		printSuccess("Conversation history cleared")
		return nil
	},
}

// --- refresh ---

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Re-embed all documents and rebuild the search index",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/refresh", nil)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("server returned %d", resp.StatusCode)
		}

		printSuccess("Knowledge base refreshed")
		return nil
	},
}

// --- docs ---

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Manage knowledge base documents",
}

var docsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a document to the knowledge base",
	Long: `Add a document to the knowledge base.

Examples:
  askgopher docs add --title "Deploy guide" --text "Run make deploy"
  askgopher docs add --title "Handbook" --file ./handbook.pdf`,
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		source, _ := cmd.Flags().GetString("source")

		if title == "" {
			return fmt.Errorf("--title is required")
		}
		if text == "" && file == "" {
			return fmt.Errorf("one of --text or --file is required")
		}

		req := map[string]string{
			"title":  title,
			"source": source,
		}
		if text != "" {
			req["content"] = text
		} else {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			if bytes.ContainsRune(data, 0) || bytes.HasPrefix(data, []byte("%PDF-")) {
				req["content"] = base64.StdEncoding.EncodeToString(data)
				req["encoding"] = "base64"
			} else {
				req["content"] = string(data)
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/documents", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Queued document %s", result["document_id"])
		return nil
	},
}

func init() {
	askCmd.Flags().String("user", "cli", "user identifier")
	askCmd.Flags().String("channel", "", "channel identifier")
	askCmd.Flags().String("thread", "", "thread identifier")

	feedbackCmd.Flags().Int("rating", 0, "rating from 1 to 5")
	feedbackCmd.Flags().String("notes", "", "optional notes")
	rootCmd.AddCommand(feedbackCmd)

	quotaCmd.Flags().String("user", "cli", "user identifier")

	clearCmd.Flags().String("user", "cli", "user identifier")
	clearCmd.Flags().String("channel", "", "channel identifier")
	clearCmd.Flags().String("thread", "", "thread identifier")

	docsAddCmd.Flags().String("title", "", "document title")
	docsAddCmd.Flags().String("text", "", "plain text content")
	docsAddCmd.Flags().String("file", "", "file to upload (text, HTML, or PDF)")
	docsAddCmd.Flags().String("source", "cli", "where the document came from")
	docsCmd.AddCommand(docsAddCmd)
	docsCmd.AddCommand(docsRemoveCmd)
}

var docsRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Delete a document and its chunks from the knowledge base",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/v1/documents/"+args[0], nil)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("server returned %d", resp.StatusCode)
		}

		printSuccess("Deleted document %s", args[0])
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}

		printSuccess("Unset %s", args[0])
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List valid configuration keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, k := range config.ValidKeys() {
			fmt.Println(k)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
	configCmd.AddCommand(configKeysCmd)
}
