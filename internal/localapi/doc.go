// Package localapi provides the HTTP client for the appliance's REST
// surface on the serving origin.
//
// Two of its endpoints drive startup decisions: mode discovery
// (/api/mode) tells the application whether the appliance is reachable
// on the LAN and whether it is provisioning, and setup status
// (/api/setup/status) gates the first-run wizard. Setup status is
// fail-open: older firmware predates the endpoint, so any failure to
// get a definite answer reports setup as complete rather than trapping
// the user in the wizard.
package localapi
