package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "auth":
		handleAuth(args)
	case "incident":
		handleIncident(args)
	case "unit":
		handleUnit(args)
	case "activity":
		handleActivity(args)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func handleAuth(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: opslink auth <login|logout|who>")
		return
	}

	switch args[0] {
	case "login":
		loginUser(args[1:])
	case "logout":
		logoutUser()
	case "who":
		whoAmI()
	default:
		fmt.Printf("unknown auth command: %s\n", args[0])
	}
}

func handleIncident(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: opslink incident <create|list|show|status|assign|note>")
		return
	}

	switch args[0] {
	case "create":
		createIncident(args[1:])
	case "list":
		listIncidents(args[1:])
	case "show":
		showIncident(args[1:])
	case "status":
		setIncidentStatus(args[1:])
	case "assign":
		assignUnits(args[1:])
	case "note":
		addNote(args[1:])
	default:
		fmt.Printf("unknown incident command: %s\n", args[0])
	}
}

func handleUnit(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: opslink unit <create|list|status>")
		return
	}

	switch args[0] {
	case "create":
		createUnit(args[1:])
	case "list":
		listUnits(args[1:])
	case "status":
		setUnitStatus(args[1:])
	default:
		fmt.Printf("unknown unit command: %s\n", args[0])
	}
}

func handleActivity(args []string) {
	if len(args) < 1 || args[0] != "tail" {
		fmt.Println("Usage: opslink activity tail [-limit N]")
		return
	}
	tailActivity(args[1:])
}

// Auth commands
func loginUser(args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	username := fs.String("username", "", "username")
	password := fs.String("password", "", "password")
	fs.Parse(args)

	if *username == "" || *password == "" {
		fmt.Println("Error: username and password are required")
		fs.PrintDefaults()
		return
	}

	result, status, err := post("/auth/login", map[string]string{
		"username": *username,
		"password": *password,
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if status != 200 {
		fmt.Printf("✗ Login failed: %s\n", errorMessage(result))
		return
	}

	if token, ok := result["token"].(string); ok {
		if err := saveToken(token); err != nil {
			fmt.Printf("Error: failed to save token: %v\n", err)
			return
		}
		fmt.Printf("✓ Logged in as: %s\n", *username)
	}
}

func logoutUser() {
	os.Remove(tokenFile())
	fmt.Println("✓ Logged out")
}

func whoAmI() {
	result, status, err := get("/auth/me")
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if status != 200 {
		fmt.Println("Not logged in")
		return
	}

	user, _ := result["user"].(map[string]interface{})
	agency, _ := result["agency"].(map[string]interface{})
	if user != nil {
		fmt.Printf("✓ %v (%v)", user["username"], user["role"])
		if agency != nil {
			fmt.Printf(" @ %v [%v]", agency["name"], agency["code"])
		}
		fmt.Println()
	}
}

// Incident commands
func createIncident(args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	id := fs.String("id", "", "incident id (e.g. 2403)")
	incType := fs.String("type", "", "incident type (e.g. \"Structure Fire\")")
	priority := fs.String("priority", "2", "priority 1-3")
	address := fs.String("address", "", "incident address")
	fs.Parse(args)

	if *id == "" || *incType == "" || *address == "" {
		fmt.Println("Error: id, type, and address are required")
		fs.PrintDefaults()
		return
	}

	result, status, err := post("/incidents", map[string]string{
		"incidentId": *id,
		"type":       *incType,
		"priority":   *priority,
		"address":    *address,
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if status != 201 {
		fmt.Printf("✗ Create failed: %s\n", errorMessage(result))
		return
	}
	fmt.Printf("✓ Incident %s created\n", *id)
}

func listIncidents(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	status := fs.String("status", "", "filter by status")
	limit := fs.Int("limit", 0, "max results")
	fs.Parse(args)

	path := "/incidents"
	params := []string{}
	if *status != "" {
		params = append(params, "status="+*status)
	}
	if *limit > 0 {
		params = append(params, fmt.Sprintf("limit=%d", *limit))
	}
	if len(params) > 0 {
		path += "?" + strings.Join(params, "&")
	}

	result, code, err := get(path)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if code != 200 {
		fmt.Printf("✗ List failed: %s\n", errorMessage(result))
		return
	}

	incidents, _ := result["incidents"].([]interface{})
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tPRIORITY\tSTATUS\tUNITS\tADDRESS")
	for _, raw := range incidents {
		inc, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		location, _ := inc["location"].(map[string]interface{})
		units, _ := inc["unitsAssigned"].([]interface{})
		unitIDs := make([]string, 0, len(units))
		for _, u := range units {
			unitIDs = append(unitIDs, fmt.Sprintf("%v", u))
		}
		address := ""
		if location != nil {
			address = fmt.Sprintf("%v", location["address"])
		}
		fmt.Fprintf(w, "%v\t%v\t%v\t%v\t%v\t%v\n",
			inc["incidentId"], inc["type"], inc["priority"], inc["status"],
			strings.Join(unitIDs, ","), address)
	}
	w.Flush()
}

func showIncident(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: opslink incident show <incident-id>")
		return
	}

	result, code, err := get("/incidents/" + args[0])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if code != 200 {
		fmt.Printf("✗ Show failed: %s\n", errorMessage(result))
		return
	}

	pretty, _ := json.MarshalIndent(result["incident"], "", "  ")
	fmt.Println(string(pretty))
}

func setIncidentStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	id := fs.String("id", "", "incident id")
	status := fs.String("status", "", "new status")
	fs.Parse(args)

	if *id == "" || *status == "" {
		fmt.Println("Error: id and status are required")
		fs.PrintDefaults()
		return
	}

	result, code, err := post("/incidents/"+*id+"/status", map[string]string{"status": *status})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if code != 200 {
		fmt.Printf("✗ Status change failed: %s\n", errorMessage(result))
		return
	}
	fmt.Printf("✓ Incident %s → %s\n", *id, *status)
}

func assignUnits(args []string) {
	fs := flag.NewFlagSet("assign", flag.ExitOnError)
	id := fs.String("id", "", "incident id")
	units := fs.String("units", "", "comma-separated unit ids (e.g. ENG1,M7)")
	fs.Parse(args)

	if *id == "" || *units == "" {
		fmt.Println("Error: id and units are required")
		fs.PrintDefaults()
		return
	}

	unitIDs := []string{}
	for _, u := range strings.Split(*units, ",") {
		if trimmed := strings.TrimSpace(u); trimmed != "" {
			unitIDs = append(unitIDs, trimmed)
		}
	}

	result, code, err := post("/incidents/"+*id+"/assign", map[string]interface{}{"units": unitIDs})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if code != 200 {
		fmt.Printf("✗ Assignment failed: %s\n", errorMessage(result))
		return
	}
	fmt.Printf("✓ Units %s assigned to %s\n", strings.Join(unitIDs, ", "), *id)
}

func addNote(args []string) {
	fs := flag.NewFlagSet("note", flag.ExitOnError)
	id := fs.String("id", "", "incident id")
	text := fs.String("text", "", "note text")
	fs.Parse(args)

	if *id == "" || *text == "" {
		fmt.Println("Error: id and text are required")
		fs.PrintDefaults()
		return
	}

	result, code, err := post("/incidents/"+*id+"/notes", map[string]string{"text": *text})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if code != 200 {
		fmt.Printf("✗ Note failed: %s\n", errorMessage(result))
		return
	}
	fmt.Printf("✓ Note added to %s\n", *id)
}

// Unit commands
func createUnit(args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	id := fs.String("id", "", "unit id (e.g. ENG1)")
	callsign := fs.String("callsign", "", "radio callsign")
	unitType := fs.String("type", "", "ENGINE|LADDER|RESCUE|AMBULANCE|COMMAND")
	fs.Parse(args)

	if *id == "" {
		fmt.Println("Error: id is required")
		fs.PrintDefaults()
		return
	}

	payload := map[string]string{"unitId": *id}
	if *callsign != "" {
		payload["callsign"] = *callsign
	}
	if *unitType != "" {
		payload["type"] = *unitType
	}

	result, code, err := post("/units", payload)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if code != 201 {
		fmt.Printf("✗ Create failed: %s\n", errorMessage(result))
		return
	}
	fmt.Printf("✓ Unit %s provisioned\n", strings.ToUpper(*id))
}

func listUnits(args []string) {
	_ = args
	result, code, err := get("/units")
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if code != 200 {
		fmt.Printf("✗ List failed: %s\n", errorMessage(result))
		return
	}

	units, _ := result["units"].([]interface{})
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "UNIT\tCALLSIGN\tTYPE\tSTATUS\tINCIDENT")
	for _, raw := range units {
		u, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		incident := u["currentIncidentId"]
		if incident == nil {
			incident = "-"
		}
		fmt.Fprintf(w, "%v\t%v\t%v\t%v\t%v\n",
			u["unitId"], u["callsign"], u["type"], u["status"], incident)
	}
	w.Flush()
}

func setUnitStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	id := fs.String("id", "", "unit id")
	status := fs.String("status", "", "new status")
	location := fs.String("location", "", "location note (optional)")
	fs.Parse(args)

	if *id == "" || *status == "" {
		fmt.Println("Error: id and status are required")
		fs.PrintDefaults()
		return
	}

	payload := map[string]string{"status": *status}
	if *location != "" {
		payload["location"] = *location
	}

	result, code, err := post("/units/"+*id+"/status", payload)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if code != 200 {
		fmt.Printf("✗ Status change failed: %s\n", errorMessage(result))
		return
	}
	fmt.Printf("✓ Unit %s → %s\n", strings.ToUpper(*id), *status)
}

// Activity commands
func tailActivity(args []string) {
	fs := flag.NewFlagSet("tail", flag.ExitOnError)
	limit := fs.Int("limit", 20, "max entries")
	fs.Parse(args)

	result, code, err := get(fmt.Sprintf("/activity?limit=%d", *limit))
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if code != 200 {
		fmt.Printf("✗ Activity failed: %s\n", errorMessage(result))
		return
	}

	entries, _ := result["activity"].([]interface{})
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTYPE\tCODE\tMESSAGE")
	for _, raw := range entries {
		e, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%v\t%v\t%v\t%v\n",
			e["createdAt"], e["type"], e["code"], e["message"])
	}
	w.Flush()
}

// Helper functions
func getAPIURL() string {
	if url := os.Getenv("OPSLINK_API"); url != "" {
		return url
	}
	return "http://localhost:8080/api"
}

func post(path string, payload interface{}) (map[string]interface{}, int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequest("POST", getAPIURL()+path, bytes.NewReader(data))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	addAuthHeader(req)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	var result map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&result)
	return result, resp.StatusCode, nil
}

func get(path string) (map[string]interface{}, int, error) {
	req, err := http.NewRequest("GET", getAPIURL()+path, nil)
	if err != nil {
		return nil, 0, err
	}
	addAuthHeader(req)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	var result map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&result)
	return result, resp.StatusCode, nil
}

func errorMessage(result map[string]interface{}) string {
	if result == nil {
		return "no response"
	}
	if errObj, ok := result["error"].(map[string]interface{}); ok {
		if msg, ok := errObj["message"].(string); ok {
			return msg
		}
	}
	return fmt.Sprintf("%v", result)
}

func tokenFile() string {
	home, _ := os.UserHomeDir()
	return home + "/.opslink/token"
}

func saveToken(token string) error {
	home, _ := os.UserHomeDir()
	if err := os.MkdirAll(home+"/.opslink", 0700); err != nil {
		return err
	}
	return os.WriteFile(tokenFile(), []byte(token), 0600)
}

func loadToken() string {
	data, _ := os.ReadFile(tokenFile())
	return strings.TrimSpace(string(data))
}

func addAuthHeader(req *http.Request) {
	if token := loadToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func printUsage() {
	fmt.Print(`OpsLink CLI

Usage:
  opslink <command> [options]

Commands:
  auth      Authentication (login, logout, who)
  incident  Incident operations (create, list, show, status, assign, note)
  unit      Unit operations (create, list, status)
  activity  Activity stream (tail)
  help      Show this help message

Environment Variables:
  OPSLINK_API    API endpoint (default: http://localhost:8080/api)

Examples:
  opslink auth login -username dispatch1 -password secret
  opslink incident create -id 2403 -type "Structure Fire" -priority 1 -address "123 Main St"
  opslink incident assign -id 2403 -units ENG1,M7
  opslink unit status -id ENG1 -status AVAILABLE
  opslink activity tail -limit 50
`)
}
