package douget

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"douget/pkg/auth"
)

var authName string

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage stored cookie credentials",
	Long: `Stores the Douyin web cookie used for authenticated requests. The
cookie is kept in the system keychain when available, otherwise in an
encrypted file under the config directory.

Copy the cookie from your browser's developer tools while logged in to
douyin.com.`,
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store a cookie credential",
	RunE:  runAuthLogin,
}

var authListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored credentials",
	RunE:  runAuthList,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout [name]",
	Short: "Remove a stored credential",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuthLogout,
}

func init() {
	authLoginCmd.Flags().StringVar(&authName, "name", "default", "name for the stored credential")

	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authListCmd)
	authCmd.AddCommand(authLogoutCmd)
	rootCmd.AddCommand(authCmd)
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("credential storage unavailable: %w", err)
	}

	cookie, err := promptHidden("Cookie: ")
	if err != nil {
		return err
	}
	if cookie == "" {
		return fmt.Errorf("cookie cannot be empty")
	}

	fmt.Print("User-Agent (optional, press enter to skip): ")
	reader := bufio.NewReader(os.Stdin)
	userAgent, _ := reader.ReadString('\n')
	userAgent = strings.TrimSpace(userAgent)

	set := &auth.CookieSet{
		Name:      authName,
		Cookie:    cookie,
		UserAgent: userAgent,
	}
	if err := manager.Store(set); err != nil {
		return err
	}

	fmt.Printf("Stored credential %q\n", authName)
	return nil
}

func runAuthList(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("credential storage unavailable: %w", err)
	}

	sets, err := manager.List()
	if err != nil {
		return err
	}
	if len(sets) == 0 {
		fmt.Println("No stored credentials. Run 'douget auth login' to add one.")
		return nil
	}

	for _, set := range sets {
		fmt.Printf("%-20s updated %s\n", set.Name, set.LastModified.Format("2006-01-02 15:04"))
	}
	return nil
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	name := "default"
	if len(args) > 0 {
		name = args[0]
	}

	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("credential storage unavailable: %w", err)
	}

	if err := manager.Delete(name); err != nil {
		return err
	}
	fmt.Printf("Removed credential %q\n", name)
	return nil
}

// promptHidden reads a secret without echoing when stdin is a terminal,
// falling back to a plain line read for piped input
func promptHidden(prompt string) (string, error) {
	fmt.Print(prompt)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		data, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
