// Package discovery registers user tools found on disk.
//
// Tools live at <tools_dir>/users/<user>/<package>/<name>.lua. The leading
// comment block carries metadata:
//
//	-- @description Reverse a string
//	-- @version 1.0
//	-- @param text:string:required Text to reverse
//	return string.reverse(text)
//
// Discovered tools are added to the registry with source "discovery". A
// version that is already registered from another source is skipped and
// reported; edited files replace their previous registration and deleted
// files are unregistered on the next scan.
//
// A Service scans once at startup and then whenever the tree changes
// (fsnotify, debounced) or on a cron schedule.
package discovery
