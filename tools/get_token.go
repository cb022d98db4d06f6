package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"

	"inquiry-relay-go/internal/credential"
)

func main() {
	portalOnly := flag.Bool("portal", false, "store portal credentials in the OS keyring and exit")
	keyringService := flag.String("keyring-service", "inquiry-relay", "keyring service name")
	flag.Parse()

	if *portalOnly {
		if err := storePortalCredentials(*keyringService); err != nil {
			logrus.Fatalf("Unable to store portal credentials: %v", err)
		}
		fmt.Println("Portal credentials stored in the keyring")
		return
	}

	clientID := os.Getenv("GMAIL_CLIENT_ID")
	clientSecret := os.Getenv("GMAIL_CLIENT_SECRET")
	if clientID == "" || clientSecret == "" {
		logrus.Fatal("Please set GMAIL_CLIENT_ID and GMAIL_CLIENT_SECRET environment variables")
	}

	config := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       []string{gmail.GmailReadonlyScope, gmail.GmailSendScope},
		Endpoint:     google.Endpoint,
		RedirectURL:  "http://localhost:8080/callback",
	}

	authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Printf("Go to the following link in your browser: %v\n", authURL)
	fmt.Println("\nAfter authorization, copy the 'code' parameter from the redirect URL.")

	var authCode string
	fmt.Print("\nEnter the authorization code: ")
	fmt.Scan(&authCode)

	tok, err := config.Exchange(context.Background(), authCode)
	if err != nil {
		logrus.Fatalf("Unable to retrieve token from web: %v", err)
	}

	fmt.Println("\nAdd the refresh token to your environment variables:")
	fmt.Printf("export GMAIL_REFRESH_TOKEN=\"%s\"\n", tok.RefreshToken)
}

// storePortalCredentials reads the portal login from stdin and saves it
// under the keys the relay looks up at startup
func storePortalCredentials(service string) error {
	ring, err := credential.OpenKeyring(service)
	if err != nil {
		return err
	}

	in := bufio.NewReader(os.Stdin)
	fmt.Print("Portal username: ")
	username, err := in.ReadString('\n')
	if err != nil {
		return err
	}
	fmt.Print("Portal password: ")
	password, err := in.ReadString('\n')
	if err != nil {
		return err
	}

	if err := ring.Set(credential.PortalUsernameKey, strings.TrimSpace(username)); err != nil {
		return err
	}
	return ring.Set(credential.PortalPasswordKey, strings.TrimSpace(password))
}
