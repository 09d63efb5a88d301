package client

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/haldis/accountd/pkg/variant"
)

// DescriptorSuffix is the file-name suffix of on-disk client descriptors.
const DescriptorSuffix = ".client"

// keyedFile is a parsed ini-style descriptor: named groups of key=value
// entries, `;` and `#` line comments, keys preserved in file order.
type keyedFile struct {
	order  []string
	groups map[string]*keyedGroup
}

type keyedGroup struct {
	name   string
	order  []string
	values map[string]string
}

func (f *keyedFile) group(name string) *keyedGroup {
	return f.groups[name]
}

func (g *keyedGroup) value(key string) (string, bool) {
	if g == nil {
		return "", false
	}
	v, ok := g.values[key]
	return v, ok
}

// stringList splits a semicolon-separated list value, dropping a trailing
// empty element left by a terminating semicolon.
func (g *keyedGroup) stringList(key string) []string {
	raw, ok := g.value(key)
	if !ok {
		return nil
	}
	parts := strings.Split(raw, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (g *keyedGroup) boolValue(key string) bool {
	raw, ok := g.value(key)
	if !ok {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1":
		return true
	}
	return false
}

func parseKeyedFile(path string) (*keyedFile, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open descriptor: %w", err)
	}
	defer fh.Close()

	file := &keyedFile{groups: make(map[string]*keyedGroup)}
	var current *keyedGroup

	scanner := bufio.NewScanner(fh)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == ';' || line[0] == '#' {
			continue
		}
		if line[0] == '[' {
			if !strings.HasSuffix(line, "]") {
				return nil, fmt.Errorf("malformed group header at line %d", lineNo)
			}
			name := line[1 : len(line)-1]
			current = file.groups[name]
			if current == nil {
				current = &keyedGroup{name: name, values: make(map[string]string)}
				file.groups[name] = current
				file.order = append(file.order, name)
			}
			continue
		}
		eq := strings.Index(line, "=")
		if eq < 0 {
			return nil, fmt.Errorf("malformed entry at line %d", lineNo)
		}
		if current == nil {
			return nil, fmt.Errorf("entry outside any group at line %d", lineNo)
		}
		key := strings.TrimSpace(line[:eq])
		value := strings.TrimSpace(line[eq+1:])
		if _, exists := current.values[key]; !exists {
			current.order = append(current.order, key)
		}
		current.values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read descriptor: %w", err)
	}
	return file, nil
}

// FindDescriptor probes the candidate directories in order for
// `<name>.client` and returns the first regular file found.
func FindDescriptor(name string, dirs []string) (string, bool) {
	filename := name + DescriptorSuffix
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		path := filepath.Join(dir, filename)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path, true
		}
	}
	return "", false
}

// LoadDescriptor parses the descriptor file at path and installs the
// declared interfaces, filters, capability tokens and bypass flag.
func (c *Client) LoadDescriptor(path string) error {
	file, err := parseKeyedFile(path)
	if err != nil {
		return err
	}
	c.ingestDescriptor(file)
	c.logger.Debug().Str("path", path).Msg("Client descriptor ingested")
	return nil
}

func (c *Client) ingestDescriptor(file *keyedFile) {
	ifaces := file.group(clientInterface).stringList("Interfaces")
	if len(ifaces) == 0 {
		c.logger.Warn().Msg("Descriptor declares no interfaces, ignoring")
		return
	}
	c.AddInterfaces(ifaces)

	var approverFilters, observerFilters, handlerFilters []Filter
	for _, name := range file.order {
		switch {
		case c.IsApprover() && strings.HasPrefix(name, approverInterface+".ApproverChannelFilter "):
			approverFilters = append(approverFilters, c.parseFilterGroup(file.groups[name]))
		case c.IsHandler() && strings.HasPrefix(name, handlerInterface+".HandlerChannelFilter "):
			handlerFilters = append(handlerFilters, c.parseFilterGroup(file.groups[name]))
		case c.IsObserver() && strings.HasPrefix(name, observerInterface+".ObserverChannelFilter "):
			observerFilters = append(observerFilters, c.parseFilterGroup(file.groups[name]))
		}
	}

	c.TakeFilters(RoleApprover, approverFilters)
	c.TakeFilters(RoleObserver, observerFilters)
	c.TakeFilters(RoleHandler, handlerFilters)

	c.SetBypassApproval(file.group(handlerInterface).boolValue("BypassApproval"))

	if caps := file.group(handlerInterface + ".Capabilities"); caps != nil {
		c.AddCapTokens(caps.order)
	}
}

// parseFilterGroup decodes one filter group. Each key is
// "<property> <typeletter>"; a malformed key or unparseable numeric
// literal skips that entry with a warning, never the whole group.
func (c *Client) parseFilterGroup(group *keyedGroup) Filter {
	filter := make(Filter)
	for _, key := range group.order {
		space := strings.LastIndex(key, " ")
		if space < 0 || space+2 != len(key) {
			c.logger.Warn().Str("key", key).Msg("Invalid key in client descriptor")
			continue
		}
		property := key[:space]
		letter := key[space+1]
		raw := group.values[key]

		switch letter {
		case 'q', 'u', 't':
			x, err := strconv.ParseUint(raw, 0, 64)
			if err != nil {
				c.logger.Warn().Str("value", raw).Msg("Invalid unsigned integer in client descriptor")
				continue
			}
			filter[property] = variant.Uint64(x)
		case 'y', 'n', 'i', 'x':
			x, err := strconv.ParseInt(raw, 0, 64)
			if err != nil {
				c.logger.Warn().Str("value", raw).Msg("Invalid signed integer in client descriptor")
				continue
			}
			filter[property] = variant.Int64(x)
		case 'b':
			filter[property] = variant.Bool(strings.EqualFold(raw, "true") || raw == "1")
		case 's':
			filter[property] = variant.String(raw)
		case 'o':
			filter[property] = variant.ObjectPath(raw)
		default:
			c.logger.Warn().Str("key", key).Msg("Invalid key in client descriptor")
		}
	}
	return filter
}
