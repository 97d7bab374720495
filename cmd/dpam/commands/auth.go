package commands

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittopam/cmd/dpam/cmdutil"
	"github.com/marmos91/dittopam/internal/cli/output"
	"github.com/marmos91/dittopam/internal/cli/prompt"
	wire "github.com/marmos91/dittopam/internal/protocol/pam"
	pamadapter "github.com/marmos91/dittopam/pkg/adapter/pam"
	"github.com/marmos91/dittopam/pkg/authtok"
	"github.com/marmos91/dittopam/pkg/config"
)

var (
	authCommand   string
	authService   string
	authSocket    string
	authVersion   int
	authPassword  string
	authNoToken   bool
	authDomains   string
	authTTY       string
	authRHost     string
	authNewPasswd string
	authTimeout   time.Duration
)

var authCommands = map[string]wire.Command{
	"authenticate":     wire.CmdAuthenticate,
	"setcred":          wire.CmdSetCred,
	"acct_mgmt":        wire.CmdAcctMgmt,
	"open_session":     wire.CmdOpenSession,
	"close_session":    wire.CmdCloseSession,
	"chauthtok":        wire.CmdChauthtok,
	"chauthtok_prelim": wire.CmdChauthtokPrelim,
	"preauth":          wire.CmdPreauth,
}

var authCmd = &cobra.Command{
	Use:   "auth <user>",
	Short: "Send a PAM request to the daemon",
	Long: `Send one PAM request over the daemon socket and print the result.

This is the same request a PAM module sends, which makes it useful to
check a domain setup without logging in.

Examples:
  # Authenticate with a prompted password
  dpam auth alice@corp.example

  # Account check against one domain only
  dpam auth alice --command acct_mgmt --requested-domains corp.example

  # Speak protocol version 1 to the privileged socket
  sudo dpam auth alice --socket /var/run/dittopam/pam_priv --protocol-version 1`,
	Args: cobra.ExactArgs(1),
	RunE: runAuth,
}

func init() {
	authCmd.Flags().StringVar(&authCommand, "command", "authenticate", "PAM operation (authenticate, setcred, acct_mgmt, open_session, close_session, chauthtok, chauthtok_prelim, preauth)")
	authCmd.Flags().StringVar(&authService, "service", "login", "PAM service name")
	authCmd.Flags().StringVar(&authSocket, "socket", "", "Daemon socket (default: server.socket_path)")
	authCmd.Flags().IntVar(&authVersion, "protocol-version", 0, "Protocol version (default: latest)")
	authCmd.Flags().StringVar(&authPassword, "password", "", "Password (prompted when needed and not set)")
	authCmd.Flags().BoolVar(&authNoToken, "no-authtok", false, "Send an empty authentication token")
	authCmd.Flags().StringVar(&authDomains, "requested-domains", "", "Comma-separated domains to restrict the lookup to")
	authCmd.Flags().StringVar(&authTTY, "tty", "", "TTY item")
	authCmd.Flags().StringVar(&authRHost, "rhost", "", "Remote host item")
	authCmd.Flags().StringVar(&authNewPasswd, "new-password", "", "New password for chauthtok (prompted when not set)")
	authCmd.Flags().DurationVar(&authTimeout, "timeout", 30*time.Second, "Request timeout")
}

func runAuth(cmd *cobra.Command, args []string) error {
	printer, err := cmdutil.Printer()
	if err != nil {
		return err
	}

	pamCmd, ok := authCommands[strings.ToLower(authCommand)]
	if !ok {
		return fmt.Errorf("unknown command %q", authCommand)
	}

	socket := authSocket
	if socket == "" {
		socket = pamadapter.DefaultSocketPath
		if cfg, err := config.Load(GetConfigFile()); err == nil && cfg.Server.SocketPath != "" {
			socket = cfg.Server.SocketPath
		}
	}

	req := &wire.Request{
		LogonName:        args[0],
		Service:          authService,
		TTY:              authTTY,
		RHost:            authRHost,
		ClientPID:        uint32(os.Getpid()),
		RequestedDomains: cmdutil.ParseCommaSeparatedList(authDomains),
		AuthTok:          authtok.Empty{},
		NewAuthTok:       authtok.Empty{},
	}

	if !authNoToken && needsAuthTok(pamCmd) {
		pw := authPassword
		if pw == "" {
			pw, err = prompt.Password("Password")
			if err != nil {
				return cmdutil.HandleAbort(err)
			}
		}
		req.AuthTok = authtok.Password{Secret: []byte(pw)}
	}
	if pamCmd == wire.CmdChauthtok {
		pw := authNewPasswd
		if pw == "" {
			pw, err = prompt.NewPassword(nil)
			if err != nil {
				return cmdutil.HandleAbort(err)
			}
		}
		req.NewAuthTok = authtok.Password{Secret: []byte(pw)}
	}

	ctx, cancel := context.WithTimeout(context.Background(), authTimeout)
	defer cancel()

	client, err := pamadapter.Dial(ctx, socket, authVersion)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	status, items, err := client.Call(ctx, pamCmd, req)
	if err != nil {
		return err
	}

	result := newAuthResult(pamCmd, client.Version(), status, items)
	if printer.Format() != output.FormatTable {
		if err := printer.Print(result); err != nil {
			return err
		}
	} else {
		printer.Result(status.String(), int(status), status == wire.StatusSuccess)
		if len(result.Items) > 0 {
			table := output.NewTableData("ITEM", "VALUE")
			for _, it := range result.Items {
				table.AddRow(it.Type, it.Value)
			}
			if err := output.PrintTable(os.Stdout, table); err != nil {
				return err
			}
		}
	}

	if status != wire.StatusSuccess {
		return &StatusError{Command: pamCmd, Status: status}
	}
	return nil
}

// StatusError reports a PAM request the daemon answered with a failure.
type StatusError struct {
	Command wire.Command
	Status  wire.Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %s", e.Command, e.Status)
}

// needsAuthTok reports whether cmd carries the user's current credential.
func needsAuthTok(cmd wire.Command) bool {
	switch cmd {
	case wire.CmdAuthenticate, wire.CmdChauthtok, wire.CmdChauthtokPrelim:
		return true
	}
	return false
}

// AuthResult is the output of 'dpam auth'.
type AuthResult struct {
	Command  string     `json:"command" yaml:"command"`
	Protocol int        `json:"protocol" yaml:"protocol"`
	Status   string     `json:"status" yaml:"status"`
	Code     int        `json:"code" yaml:"code"`
	Items    []AuthItem `json:"items,omitempty" yaml:"items,omitempty"`
}

// AuthItem is one decoded response item.
type AuthItem struct {
	Type  string `json:"type" yaml:"type"`
	Value string `json:"value" yaml:"value"`
}

func newAuthResult(cmd wire.Command, version int, status wire.Status, items []wire.ResponseItem) AuthResult {
	r := AuthResult{
		Command:  cmd.String(),
		Protocol: version,
		Status:   status.String(),
		Code:     int(status),
	}
	for _, it := range items {
		r.Items = append(r.Items, describeItem(it))
	}
	return r
}

var responseTypeNames = map[wire.ResponseType]string{
	wire.RespUserInfo:   "USER_INFO",
	wire.RespDomainName: "DOMAIN_NAME",
	wire.RespEnvItem:    "ENV_ITEM",
	wire.RespPamEnvItem: "PAM_ENV_ITEM",
	wire.RespAllEnvItem: "ALL_ENV_ITEM",
	wire.RespOTPInfo:    "OTP_INFO",
	wire.RespCertInfo:   "CERT_INFO",
}

var userInfoNames = map[wire.UserInfoType]string{
	wire.UserInfoOfflineAuth:        "offline_auth",
	wire.UserInfoOfflineAuthDelayed: "offline_auth_delayed",
	wire.UserInfoOfflineChpass:      "offline_chpass",
	wire.UserInfoOTPChpass:          "otp_chpass",
	wire.UserInfoChpassError:        "chpass_error",
	wire.UserInfoNoKrbTGT:           "no_krb_tgt",
	wire.UserInfoAccountExpired:     "account_expired",
}

func describeItem(it wire.ResponseItem) AuthItem {
	name, ok := responseTypeNames[it.Type]
	if !ok {
		name = fmt.Sprintf("0x%08x", uint32(it.Type))
	}

	switch it.Type {
	case wire.RespDomainName, wire.RespEnvItem, wire.RespPamEnvItem, wire.RespAllEnvItem:
		return AuthItem{Type: name, Value: string(bytes.TrimRight(it.Payload, "\x00"))}
	case wire.RespCertInfo:
		parts := strings.Split(strings.TrimRight(string(it.Payload), "\x00"), "\x00")
		return AuthItem{Type: name, Value: strings.Join(parts, " / ")}
	case wire.RespUserInfo:
		return AuthItem{Type: name, Value: describeUserInfo(it.Payload)}
	}
	return AuthItem{Type: name, Value: hex.EncodeToString(it.Payload)}
}

func describeUserInfo(payload []byte) string {
	kind, err := wire.UserInfoKind(payload)
	if err != nil {
		return hex.EncodeToString(payload)
	}
	label, ok := userInfoNames[kind]
	if !ok {
		label = fmt.Sprintf("type %d", kind)
	}
	switch kind {
	case wire.UserInfoOfflineAuth:
		if exp, ok := wire.OfflineAuthExpire(payload); ok {
			if exp == 0 {
				return label + ", cached credentials do not expire"
			}
			return label + ", cached credentials valid until " + time.Unix(exp, 0).Local().Format(time.RFC1123)
		}
	case wire.UserInfoOfflineAuthDelayed:
		if until, ok := wire.OfflineAuthExpire(payload); ok {
			return label + ", retry after " + time.Unix(until, 0).Local().Format(time.RFC1123)
		}
	case wire.UserInfoAccountExpired:
		if len(payload) > 8 {
			return label + ": " + string(payload[8:])
		}
	}
	return label
}
