/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package httpapi

import (
	"fmt"

	"sigs.k8s.io/yaml"
)

// kubeconfigDoc is the subset of a kubeconfig document the API cares about:
// enough to reject uploads that are not kubeconfigs at all and to record the
// context names a cluster row exposes to the UI.
type kubeconfigDoc struct {
	Clusters []struct {
		Name string `json:"name"`
	} `json:"clusters"`
	Contexts []struct {
		Name string `json:"name"`
	} `json:"contexts"`
	CurrentContext string `json:"current-context"`
}

// kubeconfigContexts parses an uploaded kubeconfig and returns its context
// names, current context first. It rejects documents with no cluster
// entries, which catches the common mistake of uploading the wrong file.
func kubeconfigContexts(data []byte) ([]string, error) {
	var doc kubeconfigDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("not a valid kubeconfig: %w", err)
	}
	if len(doc.Clusters) == 0 {
		return nil, fmt.Errorf("kubeconfig defines no clusters")
	}

	contexts := make([]string, 0, len(doc.Contexts))
	if doc.CurrentContext != "" {
		contexts = append(contexts, doc.CurrentContext)
	}
	for _, c := range doc.Contexts {
		if c.Name != doc.CurrentContext {
			contexts = append(contexts, c.Name)
		}
	}
	return contexts, nil
}
