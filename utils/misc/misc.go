package misc

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/samber/lo"

	"github.com/rudderlabs/rudder-go-kit/config"
)

// GetConnectionString returns the postgres connection string of the job store.
func GetConnectionString(c *config.Config, componentName string) string {
	host := c.GetStringVar("localhost", "DB.host")
	user := c.GetStringVar("netsync", "DB.user")
	dbname := c.GetStringVar("netsync", "DB.name")
	port := c.GetIntVar(5432, 1, "DB.port")
	password := c.GetStringVar("netsync", "DB.password")
	sslmode := c.GetStringVar("disable", "DB.sslMode")
	idleTxTimeout := c.GetDurationVar(5, time.Minute, "DB.idleTxTimeout")

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "netsync"
	}

	// application_name must stay below NAMEDATALEN (64)
	var componentPart string
	if componentName != "" {
		componentPart = lo.Substring(componentName, 0, 2) + "-"
	}
	appName := componentPart + lo.Substring(hostname, 0, 60)

	return fmt.Sprintf("host=%s port=%d user=%s "+
		"password=%s dbname=%s sslmode=%s application_name=%s "+
		" options='-c idle_in_transaction_session_timeout=%d'",
		host, port, user, password, dbname, sslmode, appName,
		idleTxTimeout.Milliseconds(),
	)
}

func TruncateStr(str string, limit int) string {
	if limit >= 0 && len(str) > limit {
		str = str[:limit]
	}
	return str
}

func ReplaceMultiRegex(str string, expList map[string]string) (string, error) {
	replacedStr := str
	for regex, substitute := range expList {
		exp, err := regexp.Compile(regex)
		if err != nil {
			return "", err
		}
		replacedStr = exp.ReplaceAllString(replacedStr, substitute)
	}
	return replacedStr, nil
}
